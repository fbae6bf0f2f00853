package ner

import (
	"testing"
)

func testVocabulary() *Vocabulary {
	tokens := make([]string, 110)
	tokens[0] = "[PAD]"
	tokens[100] = "[UNK]"
	tokens[101] = "[CLS]"
	tokens[102] = "[SEP]"
	tokens = append(tokens,
		"email", // 110
		":",     // 111
		"test",  // 112
		"@",     // 113
		"example",
		".",
		"com",
		"phone",
		"81",
		"##23",
		"45",
		"##67",
		"john",
		"smith",
	)
	return NewVocabulary(tokens)
}

func TestEncodeInvariants(t *testing.T) {
	texts := []string{
		"",
		"Email: test@example.com Phone: 8123 4567",
		"   leading and trailing   ",
		"Ünïcödé wörds and emoji 😀 mixed",
		"averyveryveryveryveryveryveryveryveryveryveryveryveryveryveryveryveryveryveryveryveryveryveryveryverylongword",
		"tabs\tand\nnewlines\r\n",
		string([]byte{0xff, 'a', 0xfe}),
	}

	tokenizers := map[string]*Tokenizer{
		"wordpiece":  NewTokenizer(testVocabulary()),
		"whitespace": NewTokenizer(nil),
	}

	for name, tok := range tokenizers {
		for _, maxLen := range []int{2, 8, 64} {
			for _, text := range texts {
				enc := tok.Encode(text, maxLen)

				if len(enc.InputIDs) != maxLen || len(enc.AttentionMask) != maxLen || len(enc.Offsets) != maxLen {
					t.Fatalf("%s: lengths %d/%d/%d, want %d", name,
						len(enc.InputIDs), len(enc.AttentionMask), len(enc.Offsets), maxLen)
				}
				if enc.InputIDs[0] != tok.ClsID() {
					t.Errorf("%s: first id %d, want CLS", name, enc.InputIDs[0])
				}
				for i, off := range enc.Offsets {
					if off.Start < 0 || off.Start > off.End || off.End > len(text) {
						t.Errorf("%s: offset %d out of range: %+v for text len %d", name, i, off, len(text))
					}
				}
			}
		}
	}
}

func TestEncodeWordPiece(t *testing.T) {
	tok := NewTokenizer(testVocabulary())
	text := "Email: test@example.com Phone: 8123 4567"
	enc := tok.Encode(text, 32)

	var pieces []string
	var ids []int64
	for i := 1; i < len(enc.InputIDs) && enc.InputIDs[i] != DefaultSepID; i++ {
		pieces = append(pieces, text[enc.Offsets[i].Start:enc.Offsets[i].End])
		ids = append(ids, enc.InputIDs[i])
	}

	want := []string{"Email", ":", "test", "@", "example", ".", "com", "Phone", ":", "81", "23", "45", "67"}
	if len(pieces) != len(want) {
		t.Fatalf("Expected %d pieces, got %d: %q", len(want), len(pieces), pieces)
	}
	for i := range want {
		if pieces[i] != want[i] {
			t.Errorf("Piece %d = %q, want %q", i, pieces[i], want[i])
		}
	}

	if ids[0] != 110 {
		t.Errorf("Expected case-insensitive lookup of Email, got id %d", ids[0])
	}
	if ids[10] != 119 {
		t.Errorf("Expected continuation piece ##23 (119), got %d", ids[10])
	}

	sepAt := len(pieces) + 1
	if enc.InputIDs[sepAt] != DefaultSepID || enc.Offsets[sepAt] != (Offset{}) {
		t.Errorf("Expected SEP with zero offset at %d", sepAt)
	}
	if enc.AttentionMask[sepAt+1] != 0 || enc.InputIDs[sepAt+1] != DefaultPadID {
		t.Errorf("Expected padding after SEP")
	}
}

func TestEncodeUnknownAndTruncation(t *testing.T) {
	tok := NewTokenizer(testVocabulary())

	enc := tok.Encode("zebra john", 8)
	if enc.InputIDs[1] != DefaultUnkID {
		t.Errorf("Expected unknown word to map to UNK, got %d", enc.InputIDs[1])
	}
	if enc.Offsets[1] != (Offset{Start: 0, End: 5}) {
		t.Errorf("Expected UNK to cover the whole word, got %+v", enc.Offsets[1])
	}

	enc = tok.Encode("john smith john smith john smith", 4)
	if enc.InputIDs[3] != DefaultSepID {
		t.Errorf("Expected SEP as the last position after truncation, got %d", enc.InputIDs[3])
	}
	for _, m := range enc.AttentionMask {
		if m != 1 {
			t.Errorf("Expected full attention on a truncated sequence")
		}
	}
}

func TestWhitespaceFallback(t *testing.T) {
	tok := NewTokenizer(nil)
	text := "  hello, world  "
	enc := tok.Encode(text, 8)

	if !tok.Fallback() {
		t.Fatal("Expected fallback tokenizer without vocabulary")
	}
	if enc.InputIDs[1] != DefaultUnkID || enc.InputIDs[2] != DefaultUnkID {
		t.Errorf("Expected every word to be UNK, got %v", enc.InputIDs[:4])
	}
	if got := text[enc.Offsets[1].Start:enc.Offsets[1].End]; got != "hello," {
		t.Errorf("Expected first word offset over %q, got %q", "hello,", got)
	}
	if got := text[enc.Offsets[2].Start:enc.Offsets[2].End]; got != "world" {
		t.Errorf("Expected second word offset over %q, got %q", "world", got)
	}
	if enc.InputIDs[3] != DefaultSepID {
		t.Errorf("Expected SEP after two words, got %d", enc.InputIDs[3])
	}
}

func TestEncodeDeterministic(t *testing.T) {
	tok := NewTokenizer(testVocabulary())
	text := "John Smith test@example.com"
	a := tok.Encode(text, 16)
	b := tok.Encode(text, 16)
	for i := range a.InputIDs {
		if a.InputIDs[i] != b.InputIDs[i] || a.Offsets[i] != b.Offsets[i] {
			t.Fatalf("Encoding differs at %d", i)
		}
	}
}

func TestEncodeMinimumLength(t *testing.T) {
	tok := NewTokenizer(testVocabulary())
	for _, maxLen := range []int{-1, 0, 1} {
		enc := tok.Encode("john smith", maxLen)
		if enc.Len() != MinSequenceLength {
			t.Errorf("maxLen %d: expected length raised to %d, got %d", maxLen, MinSequenceLength, enc.Len())
		}
		if enc.InputIDs[0] != DefaultClsID || enc.InputIDs[1] != DefaultSepID {
			t.Errorf("maxLen %d: expected [CLS] [SEP], got %v", maxLen, enc.InputIDs)
		}
		if enc.Consumed != 0 {
			t.Errorf("maxLen %d: nothing fits, got consumed %d", maxLen, enc.Consumed)
		}
	}
}

func TestEncodeConsumed(t *testing.T) {
	tok := NewTokenizer(testVocabulary())

	tests := []struct {
		name   string
		text   string
		maxLen int
		want   int
	}{
		{"everything fits", "john smith ", 8, len("john smith ")},
		{"ends on whitespace", "john smith john smith", 4, len("john smith")},
		{"punctuation chunk kept whole", "john test@example.com", 6, len("john")},
		{"chunk longer than window", "test@example.com", 4, len("test@")},
		{"whitespace fallback", "one two three", 4, len("one two")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encTok := tok
			if tt.name == "whitespace fallback" {
				encTok = NewTokenizer(nil)
			}
			if got := encTok.Encode(tt.text, tt.maxLen).Consumed; got != tt.want {
				t.Errorf("Consumed = %d, want %d", got, tt.want)
			}
		})
	}
}
