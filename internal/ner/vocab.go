package ner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Vocabulary maps WordPiece tokens to ids
type Vocabulary struct {
	ids map[string]int64
}

// NewVocabulary builds a vocabulary where each token's id is its index
func NewVocabulary(tokens []string) *Vocabulary {
	v := &Vocabulary{ids: make(map[string]int64, len(tokens))}
	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		v.ids[tok] = int64(i)
	}
	return v
}

// LoadVocabulary reads vocab.txt (one token per line) or a tokenizer.json
func LoadVocabulary(path string) (*Vocabulary, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadTokenizerJSON(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer file.Close()

	var tokens []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary %s is empty", path)
	}

	return NewVocabulary(tokens), nil
}

func loadTokenizerJSON(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer file: %w", err)
	}

	var doc struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer file: %w", err)
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer file %s has no model.vocab", path)
	}

	return &Vocabulary{ids: doc.Model.Vocab}, nil
}

// ID looks up a token
func (v *Vocabulary) ID(token string) (int64, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// Size returns the number of tokens
func (v *Vocabulary) Size() int {
	return len(v.ids)
}

func (v *Vocabulary) idOr(token string, fallback int64) int64 {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return fallback
}
