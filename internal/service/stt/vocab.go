package stt

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Special tokens of wav2vec2-style CTC vocabularies.
const (
	TokenPad           = "<pad>"
	TokenBOS           = "<s>"
	TokenEOS           = "</s>"
	TokenUnknown       = "<unk>"
	TokenWordDelimiter = "|"
)

// Vocabulary maps logit indices to tokens. The pad token doubles as the CTC
// blank.
type Vocabulary struct {
	tokens  []string
	blank   int
	special map[int]bool
}

// NewVocabulary builds a Vocabulary from a token->id table. Ids must be
// dense starting at zero.
func NewVocabulary(ids map[string]int) (*Vocabulary, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	tokens := make([]string, len(ids))
	seen := make([]bool, len(ids))
	for tok, id := range ids {
		if id < 0 || id >= len(ids) {
			return nil, fmt.Errorf("token %q has id %d outside [0,%d)", tok, id, len(ids))
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate id %d", id)
		}
		seen[id] = true
		tokens[id] = tok
	}

	v := &Vocabulary{tokens: tokens, blank: -1, special: make(map[int]bool)}
	for id, tok := range tokens {
		switch tok {
		case TokenPad:
			v.blank = id
			v.special[id] = true
		case TokenBOS, TokenEOS, TokenUnknown:
			v.special[id] = true
		}
	}
	if v.blank < 0 {
		return nil, fmt.Errorf("vocabulary has no %s token", TokenPad)
	}
	return v, nil
}

// Size is the number of tokens, which must equal the logit width.
func (v *Vocabulary) Size() int { return len(v.tokens) }

// Blank is the CTC blank index.
func (v *Vocabulary) Blank() int { return v.blank }

// Token returns the token at id.
func (v *Vocabulary) Token(id int) string { return v.tokens[id] }

// ID returns the index of tok, or -1.
func (v *Vocabulary) ID(tok string) int {
	for i, t := range v.tokens {
		if t == tok {
			return i
		}
	}
	return -1
}

// LoadVocabularies reads an MMS vocab.json, which holds one token table per
// language code: {"wol": {"<pad>": 0, ...}, "ful": {...}}.
func LoadVocabularies(path string) (map[string]*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return ParseVocabularies(data)
}

// ParseVocabularies decodes the vocab.json layout used by LoadVocabularies.
func ParseVocabularies(data []byte) (map[string]*Vocabulary, error) {
	var raw map[string]map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}

	langs := make([]string, 0, len(raw))
	for lang := range raw {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	out := make(map[string]*Vocabulary, len(raw))
	for _, lang := range langs {
		v, err := NewVocabulary(raw[lang])
		if err != nil {
			return nil, fmt.Errorf("vocabulary %s: %w", lang, err)
		}
		out[lang] = v
	}
	return out, nil
}
