package assembler

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Measurer reports the budget cost of a piece of text. The budget walk is
// agnostic to the unit; characters and model tokens are both supported.
type Measurer interface {
	Measure(text string) int
}

// CharMeasurer costs text by rune count. It is the default and needs no
// model data.
type CharMeasurer struct{}

func (CharMeasurer) Measure(text string) int { return len([]rune(text)) }

// TokenMeasurer costs text in model tokens so the assembled context maps
// directly onto an LLM context window.
type TokenMeasurer struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenMeasurer loads the tokenizer for the given encoding name, for
// example "cl100k_base".
func NewTokenMeasurer(encodingName string) (*TokenMeasurer, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer encoding %q: %w", encodingName, err)
	}
	return &TokenMeasurer{encoding: encoding}, nil
}

func (m *TokenMeasurer) Measure(text string) int {
	return len(m.encoding.Encode(text, nil, nil))
}

var (
	_ Measurer = CharMeasurer{}
	_ Measurer = (*TokenMeasurer)(nil)
)
