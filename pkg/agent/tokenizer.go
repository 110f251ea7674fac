package agent

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts the tokens of a text for the budget cut. Counts must
// not decrease when the text grows.
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimatedTokenCounter approximates tokens from the character count.
type EstimatedTokenCounter struct {
	CharactersPerToken int
}

func NewEstimatedTokenCounter(charactersPerToken int) *EstimatedTokenCounter {
	if charactersPerToken <= 0 {
		charactersPerToken = 3
	}
	return &EstimatedTokenCounter{CharactersPerToken: charactersPerToken}
}

func (c *EstimatedTokenCounter) CountTokens(text string) int {
	return utf8.RuneCountInString(text) / c.CharactersPerToken
}

// TiktokenCounter counts tokens with the model's BPE encoding. The encoding
// is resolved on first use since it may need to be downloaded.
type TiktokenCounter struct {
	model string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
	// used when the encoding cannot be loaded
	fallback TokenCounter
}

func NewTiktokenCounter(model string) *TiktokenCounter {
	return &TiktokenCounter{model: model, fallback: NewEstimatedTokenCounter(3)}
}

func (c *TiktokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			c.initErr = fmt.Errorf("loading tiktoken encoding for %s: %w", c.model, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// Err reports why the encoding could not be loaded, if it could not.
func (c *TiktokenCounter) Err() error {
	return c.init()
}

func (c *TiktokenCounter) CountTokens(text string) int {
	if err := c.init(); err != nil {
		return c.fallback.CountTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}
