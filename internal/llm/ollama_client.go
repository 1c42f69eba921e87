package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"briefer/internal/logging"
)

var _ Client = (*ollamaClient)(nil)

// ollamaClient runs non-streaming chat completions against an Ollama server.
type ollamaClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// Config holds inference client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewOllamaClient creates a client for the given model. BaseURL defaults to
// the local Ollama API.
func NewOllamaClient(model string, cfg Config) Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434/api"
	}
	if !strings.HasSuffix(baseURL, "/api") {
		baseURL += "/api"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &ollamaClient{
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger("ollama-client"),
	}
}

func (c *ollamaClient) Model() string {
	return c.model
}

func (c *ollamaClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/chat", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var response ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if response.Error != "" {
		return nil, &APIError{Kind: ErrUnavailable, Message: response.Error}
	}

	stopReason := strings.TrimSpace(response.DoneReason)
	if stopReason == "" {
		stopReason = "stop"
	}

	return &CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason,
		Usage: TokenUsage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
			TotalTokens:      response.PromptEvalCount + response.EvalCount,
		},
	}, nil
}

func (c *ollamaClient) buildRequest(req CompletionRequest) ollamaRequest {
	request := ollamaRequest{
		Model:    c.model,
		Messages: make([]Message, 0, len(req.Messages)),
		Stream:   false,
	}
	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Role) == "" || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		request.Messages = append(request.Messages, msg)
	}

	options := make(map[string]any)
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		request.Options = options
	}
	return request
}

func classifyTransportError(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: ErrTimeout, Message: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: ErrTimeout, Message: err.Error()}
	}
	return &APIError{Kind: ErrUnavailable, Message: err.Error()}
}

func classifyStatusError(status int, body string) error {
	switch status {
	case http.StatusForbidden, http.StatusUnauthorized:
		return &APIError{Kind: ErrForbidden, StatusCode: status, Message: body}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &APIError{Kind: ErrTimeout, StatusCode: status, Message: body}
	default:
		return &APIError{Kind: ErrUnavailable, StatusCode: status, Message: body}
	}
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}
