package agent

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/meguminnnnnnnnn/go-openai"
)

type ErrorKind int

const (
	ErrorGeneric ErrorKind = iota
	ErrorParse
	ErrorRateLimit
	ErrorActionExecution
	ErrorEnvironment
	ErrorBudgetOverflow
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorParse:
		return "parse"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorActionExecution:
		return "action_execution"
	case ErrorEnvironment:
		return "environment"
	case ErrorBudgetOverflow:
		return "budget_overflow"
	default:
		return "generic"
	}
}

const (
	validationErrorMessage = "Invalid model output format. Please follow the correct schema."
	rateLimitErrorMessage  = "Rate limit reached. Waiting before retry."
)

var (
	ErrRateLimited        = errors.New("rate limit reached")
	ErrBudgetOverflow     = errors.New("max token limit reached - history is too long - reduce the system prompt or task")
	ErrInvalidModelOutput = errors.New("invalid model output")
)

// AgentError is a classified step failure. Only budget overflows end a run.
type AgentError struct {
	Kind ErrorKind
	Err  error
}

func newAgentError(kind ErrorKind, err error) *AgentError {
	return &AgentError{Kind: kind, Err: err}
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

func (e *AgentError) Retryable() bool {
	return e.Kind != ErrorBudgetOverflow
}

// IsRateLimit reports whether err is a provider rate limit.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// providers that lose the status code still name the condition
var rateLimitPhrases = []string{"rate limit", "rate_limit", "ratelimit", "too many requests"}

// classifyModelError maps an error from the chat model call to its kind.
func classifyModelError(err error) *AgentError {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr
	}
	if IsRateLimit(err) {
		return newAgentError(ErrorRateLimit, err)
	}
	return newAgentError(ErrorGeneric, err)
}

// FormatError renders a step failure the way it is shown to the model.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		return err.Error()
	}
	switch agentErr.Kind {
	case ErrorParse:
		return fmt.Sprintf("%s\nDetails: %v", validationErrorMessage, agentErr.Err)
	case ErrorRateLimit:
		return fmt.Sprintf("%s\nDetails: %v", rateLimitErrorMessage, agentErr.Err)
	default:
		return agentErr.Err.Error()
	}
}
