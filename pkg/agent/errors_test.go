package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	goopenai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("provider: %w", ErrRateLimited), true},
		{"openai api error", &goopenai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}, true},
		{"openai request error", &goopenai.RequestError{HTTPStatusCode: http.StatusTooManyRequests, Err: errors.New("busy")}, true},
		{"openai server error", &goopenai.APIError{HTTPStatusCode: http.StatusInternalServerError, Message: "boom"}, false},
		{"message", errors.New("Rate limit exceeded for model"), true},
		{"too many requests", errors.New("upstream: 429 Too Many Requests"), true},
		{"error code", errors.New(`{"code": "rate_limit_exceeded"}`), true},
		{"number containing 429", errors.New("This model's maximum context length is 4290 tokens"), false},
		{"bare status digits", errors.New("status 429 from upstream"), false},
		{"generic", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimit(tt.err))
		})
	}
}

func TestClassifyModelError(t *testing.T) {
	assert.Equal(t, ErrorRateLimit, classifyModelError(ErrRateLimited).Kind)
	assert.Equal(t, ErrorGeneric, classifyModelError(errors.New("boom")).Kind)
	assert.Equal(t, ErrorGeneric, classifyModelError(context.DeadlineExceeded).Kind)
	assert.Equal(t, ErrorGeneric, classifyModelError(errors.New("maximum context length is 4290 tokens")).Kind)

	parse := newAgentError(ErrorParse, ErrInvalidModelOutput)
	assert.Same(t, parse, classifyModelError(fmt.Errorf("wrapped: %w", parse)))
}

func TestAgentError(t *testing.T) {
	err := newAgentError(ErrorBudgetOverflow, fmt.Errorf("%w: system message", ErrBudgetOverflow))
	assert.ErrorIs(t, err, ErrBudgetOverflow)
	assert.False(t, err.Retryable())
	assert.Contains(t, err.Error(), "budget_overflow error")

	for _, kind := range []ErrorKind{ErrorGeneric, ErrorParse, ErrorRateLimit, ErrorActionExecution, ErrorEnvironment} {
		assert.True(t, newAgentError(kind, errors.New("x")).Retryable(), kind.String())
	}
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, "", FormatError(nil))
	assert.Equal(t, "plain", FormatError(errors.New("plain")))
	assert.Equal(t, "click failed", FormatError(newAgentError(ErrorActionExecution, errors.New("click failed"))))

	parse := FormatError(newAgentError(ErrorParse, errors.New("missing action")))
	assert.Equal(t, "Invalid model output format. Please follow the correct schema.\nDetails: missing action", parse)

	rate := FormatError(newAgentError(ErrorRateLimit, errors.New("429")))
	assert.Equal(t, "Rate limit reached. Waiting before retry.\nDetails: 429", rate)
}

func TestEstimatedTokenCounter(t *testing.T) {
	c := NewEstimatedTokenCounter(0)
	assert.Equal(t, 3, c.CharactersPerToken)
	assert.Equal(t, 0, c.CountTokens("ab"))
	assert.Equal(t, 2, c.CountTokens("abcdef"))
	assert.Equal(t, 1, c.CountTokens("äöü"))
}

func TestTiktokenCounter(t *testing.T) {
	c := NewTiktokenCounter("gpt-4o")
	if err := c.Err(); err != nil {
		// the encoding is downloaded on first use; offline runs fall back
		assert.Equal(t, 2, c.CountTokens("abcdef"))
		return
	}
	empty := c.CountTokens("")
	short := c.CountTokens("hello")
	long := c.CountTokens("hello world, this is a longer sentence")
	require.Equal(t, 0, empty)
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}
