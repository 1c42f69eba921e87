// Package llm provides the inference client used for report generation.
// The agent core treats completion as a single blocking call: a response
// with token usage, or a classified error.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message is one chat turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one non-streaming completion.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// TokenUsage is the accounting reported by the backend.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the result of a successful completion.
type CompletionResponse struct {
	Content    string
	StopReason string
	Usage      TokenUsage
}

// Client is the blocking inference contract consumed by the report
// generator.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Model() string
}

// Error categories for completion failures.
var (
	// ErrUnavailable indicates the backend could not be reached.
	ErrUnavailable = errors.New("inference backend unavailable")
	// ErrForbidden indicates the backend rejected the request for the
	// configured model (gated model, missing authorization).
	ErrForbidden = errors.New("model access forbidden")
	// ErrTimeout indicates the completion did not finish in time.
	ErrTimeout = errors.New("completion timed out")
)

// APIError carries the backend's status and message alongside the category
// sentinel, so callers can both classify and display the failure.
type APIError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}
