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

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/circuitbreaker"
	"github.com/fleetcore-ai/compass/internal/config"
	"github.com/fleetcore-ai/compass/internal/metrics"
	"github.com/fleetcore-ai/compass/internal/ratecontrol"
	"github.com/fleetcore-ai/compass/internal/tracing"
)

// ErrProviderUnavailable is returned when the provider breaker is open.
var ErrProviderUnavailable = errors.New("completion provider unavailable")

// CompletionRequest carries one fully-built prompt to the provider.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the provider's prose answer.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensUsed int
}

// Client is the completion provider interface.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	cfg      config.LLMConfig
	provider string
	http     *circuitbreaker.HTTPWrapper
	logger   *zap.Logger
}

// NewHTTPClient creates a completion client from the loaded configuration.
func NewHTTPClient(cfg config.LLMConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return &HTTPClient{
		cfg:      cfg,
		provider: providerForModel(cfg.Model),
		http:     circuitbreaker.NewHTTPWrapper(httpClient, "llm", logger),
		logger:   logger,
	}
}

// providerForModel maps a model name to its rate-budget provider.
func providerForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return "openai"
	case strings.HasPrefix(m, "claude-"):
		return "anthropic"
	default:
		return "unknown"
	}
}

// estimateTokens approximates the prompt's token count for TPM pacing.
func estimateTokens(req CompletionRequest) int {
	chars := len(req.System) + len(req.Prompt)
	est := chars / 4
	if req.MaxTokens > 0 {
		est += req.MaxTokens
	}
	return est
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion request, pacing it against the
// provider's RPM and TPM budgets.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("empty prompt")
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	if err := c.pace(ctx, req); err != nil {
		return nil, err
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectHTTP(ctx, httpReq)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordCompletion(c.provider, "error", elapsed)
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordCompletion(c.provider, fmt.Sprintf("http_%d", resp.StatusCode), elapsed)
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("completion provider returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.RecordCompletion(c.provider, "decode_error", elapsed)
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		metrics.RecordCompletion(c.provider, "empty", elapsed)
		return nil, fmt.Errorf("completion response had no choices")
	}
	metrics.RecordCompletion(c.provider, "ok", elapsed)

	model := parsed.Model
	if model == "" {
		model = c.cfg.Model
	}

	c.logger.Debug("Completion finished",
		zap.String("model", model),
		zap.Int("tokens", parsed.Usage.TotalTokens),
		zap.Float64("seconds", elapsed),
	)

	return &CompletionResponse{
		Content:    parsed.Choices[0].Message.Content,
		Model:      model,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

// pace blocks until the provider's RPM bucket admits the call, then adds
// the TPM delay token-metered providers require.
func (c *HTTPClient) pace(ctx context.Context, req CompletionRequest) error {
	if err := ratecontrol.LimiterForProvider(c.provider).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	delay := ratecontrol.DelayForTokens(c.provider, estimateTokens(req))
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsOpen reports whether the provider breaker is open.
func (c *HTTPClient) IsOpen() bool {
	return c.http.IsOpen()
}
