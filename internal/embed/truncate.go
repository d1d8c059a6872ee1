package embed

import (
	"github.com/tiktoken-go/tokenizer"
)

// Truncator clips text to a token budget so the embedding service never
// sees input past its context window.
type Truncator struct {
	codec tokenizer.Codec
	max   int
}

// NewTruncator loads the cl100k vocabulary with the given budget.
func NewTruncator(maxTokens int) (*Truncator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &Truncator{codec: codec, max: maxTokens}, nil
}

// Clip returns text unchanged when it fits the budget, otherwise the
// decoded prefix of the first max tokens.
func (t *Truncator) Clip(text string) (string, error) {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return "", err
	}
	if len(ids) <= t.max {
		return text, nil
	}
	return t.codec.Decode(ids[:t.max])
}
