package ner

import (
	"unicode"
	"unicode/utf8"
)

// Default BERT special token ids, used when the vocabulary lacks them
const (
	DefaultPadID int64 = 0
	DefaultUnkID int64 = 100
	DefaultClsID int64 = 101
	DefaultSepID int64 = 102

	maxWordRunes = 100
)

// Tokenizer produces fixed-length WordPiece encodings with byte offsets into
// the original text. A nil vocabulary selects the whitespace fallback where
// every word becomes [UNK].
type Tokenizer struct {
	vocab *Vocabulary
	clsID int64
	sepID int64
	padID int64
	unkID int64
}

type piece struct {
	id     int64
	offset Offset
}

// NewTokenizer creates a tokenizer over vocab
func NewTokenizer(vocab *Vocabulary) *Tokenizer {
	t := &Tokenizer{
		vocab: vocab,
		clsID: DefaultClsID,
		sepID: DefaultSepID,
		padID: DefaultPadID,
		unkID: DefaultUnkID,
	}
	if vocab != nil {
		t.clsID = vocab.idOr("[CLS]", DefaultClsID)
		t.sepID = vocab.idOr("[SEP]", DefaultSepID)
		t.padID = vocab.idOr("[PAD]", DefaultPadID)
		t.unkID = vocab.idOr("[UNK]", DefaultUnkID)
	}
	return t
}

// Fallback reports whether the tokenizer is running without a vocabulary
func (t *Tokenizer) Fallback() bool {
	return t.vocab == nil
}

// ClsID returns the [CLS] id
func (t *Tokenizer) ClsID() int64 { return t.clsID }

// MinSequenceLength is the shortest encoding: [CLS] and [SEP] always take a
// position each
const MinSequenceLength = 2

// Encode converts text into exactly maxLen positions: [CLS], tokens, [SEP],
// padding. A maxLen below MinSequenceLength is raised to it. Consumed reports
// how much of text the encoding covers; it ends on whitespace when possible so
// the rest can be encoded as a new window.
func (t *Tokenizer) Encode(text string, maxLen int) Encoding {
	if maxLen < MinSequenceLength {
		maxLen = MinSequenceLength
	}

	enc := Encoding{
		InputIDs:      make([]int64, maxLen),
		AttentionMask: make([]int64, maxLen),
		Offsets:       make([]Offset, maxLen),
	}
	for i := range enc.InputIDs {
		enc.InputIDs[i] = t.padID
	}

	enc.InputIDs[0] = t.clsID
	enc.AttentionMask[0] = 1
	pos := 1
	budget := maxLen - 2

	emit := func(p piece) bool {
		if pos-1 >= budget {
			return false
		}
		enc.InputIDs[pos] = p.id
		enc.AttentionMask[pos] = 1
		enc.Offsets[pos] = p.offset
		pos++
		return true
	}

	var (
		words        = t.splitWords(text)
		complete     = true
		boundary     int // end of the last whole whitespace-delimited chunk
		lastWordEnd  int
		lastPieceEnd int
	)
	for i, word := range words {
		if pos-1 >= budget {
			complete = false
			break
		}

		pieces := []piece{{id: t.unkID, offset: word}}
		if t.vocab != nil {
			pieces = t.wordPiece(text, word)
		}

		whole := true
		for _, p := range pieces {
			if !emit(p) {
				whole = false
				break
			}
			lastPieceEnd = p.offset.End
		}
		if !whole {
			complete = false
			break
		}

		lastWordEnd = word.End
		if i == len(words)-1 || words[i+1].Start > word.End {
			boundary = word.End
		}
	}

	switch {
	case complete:
		enc.Consumed = len(text)
	case boundary > 0:
		enc.Consumed = boundary
	case lastWordEnd > 0:
		enc.Consumed = lastWordEnd
	default:
		enc.Consumed = lastPieceEnd
	}

	enc.InputIDs[pos] = t.sepID
	enc.AttentionMask[pos] = 1

	return enc
}

// splitWords returns word spans: whitespace only in fallback mode, otherwise
// whitespace plus single-rune punctuation tokens.
func (t *Tokenizer) splitWords(text string) []Offset {
	var words []Offset
	start := -1

	flush := func(end int) {
		if start >= 0 {
			words = append(words, Offset{Start: start, End: end})
			start = -1
		}
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush(i)
		case t.vocab != nil && isPunctuation(r):
			flush(i)
			words = append(words, Offset{Start: i, End: i + size})
		default:
			if start < 0 {
				start = i
			}
		}
		i += size
	}
	flush(len(text))

	return words
}

// wordPiece splits one word by greedy longest-match-first
func (t *Tokenizer) wordPiece(text string, word Offset) []piece {
	unknown := []piece{{id: t.unkID, offset: word}}

	// byte position of each rune plus the end position
	var bounds []int
	var lowered []rune
	for i := word.Start; i < word.End; {
		r, size := utf8.DecodeRuneInString(text[i:word.End])
		bounds = append(bounds, i)
		lowered = append(lowered, unicode.ToLower(r))
		i += size
	}
	bounds = append(bounds, word.End)

	n := len(lowered)
	if n > maxWordRunes {
		return unknown
	}

	var pieces []piece
	for s := 0; s < n; {
		matched := false
		for e := n; e > s; e-- {
			candidate := string(lowered[s:e])
			if s > 0 {
				candidate = "##" + candidate
			}
			if id, ok := t.vocab.ID(candidate); ok {
				pieces = append(pieces, piece{id: id, offset: Offset{Start: bounds[s], End: bounds[e]}})
				s = e
				matched = true
				break
			}
		}
		if !matched {
			return unknown
		}
	}

	return pieces
}

func isPunctuation(r rune) bool {
	if r < utf8.RuneSelf {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_')
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
