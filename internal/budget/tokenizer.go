package budget

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// FallbackEncoding is used when the model has no registered encoding.
const FallbackEncoding = "cl100k_base"

// Counter counts the tokens an embedding call for text would consume.
type Counter interface {
	Count(text string) (int, error)
}

// TiktokenCounter counts with the BPE encoding of an OpenAI model. The
// encoding loads on first use.
type TiktokenCounter struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktokenCounter returns a counter for model, falling back to
// cl100k_base for models tiktoken does not know.
func NewTiktokenCounter(model string) *TiktokenCounter {
	return &TiktokenCounter{model: model}
}

func (c *TiktokenCounter) load() {
	enc, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(FallbackEncoding)
	}
	if err != nil {
		c.err = fmt.Errorf("loading tokenizer for %q: %w", c.model, err)
		return
	}
	c.enc = enc
}

// Count implements Counter.
func (c *TiktokenCounter) Count(text string) (int, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return 0, c.err
	}
	return len(c.enc.Encode(text, nil, nil)), nil
}
