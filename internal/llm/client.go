package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config selects an OpenAI-compatible endpoint.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
}

// Client sends JSON-mode chat completions with rate limiting and retries.
type Client struct {
	api         *openai.Client
	model       string
	timeout     time.Duration
	maxAttempts int
	initialWait time.Duration
	maxWait     time.Duration
	limiter     *rate.Limiter
	log         *zap.Logger
}

// NewClient builds a client. An API key is required.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       model,
		timeout:     timeout,
		maxAttempts: attempts,
		initialWait: 500 * time.Millisecond,
		maxWait:     8 * time.Second,
		limiter:     rate.NewLimiter(limit, 1),
		log:         log,
	}, nil
}

// Complete sends one system and user message pair and returns the
// schema-valid JSON content of the first choice.
func (c *Client) Complete(ctx context.Context, system, user string, schema *Schema) (json.RawMessage, error) {
	invalidRetried := false
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		content, err := c.complete(ctx, system, user, schema)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !shouldRetry(err, &invalidRetried) || attempt == c.maxAttempts-1 {
			break
		}
		wait := c.backoff(attempt, err)
		c.log.Warn("completion failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (c *Client) complete(ctx context.Context, system, user string, schema *Schema) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ErrInvalidResponse{Err: fmt.Errorf("no choices in completion")}
	}
	content := json.RawMessage(resp.Choices[0].Message.Content)
	if err := validate(schema, content); err != nil {
		return nil, err
	}
	return content, nil
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &ErrRateLimit{Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &ErrUnavailable{Err: err}
		case apiErr.HTTPStatusCode >= 400:
			return err
		}
	}
	return &ErrUnavailable{Err: err}
}

// shouldRetry retries transient failures. An invalid completion gets one retry.
func shouldRetry(err error, invalidRetried *bool) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var invalid *ErrInvalidResponse
	if errors.As(err, &invalid) {
		if *invalidRetried {
			return false
		}
		*invalidRetried = true
		return true
	}
	var rl *ErrRateLimit
	var down *ErrUnavailable
	return errors.As(err, &rl) || errors.As(err, &down)
}

func (c *Client) backoff(attempt int, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	wait := float64(c.initialWait) * math.Pow(2, float64(attempt))
	if wait > float64(c.maxWait) {
		wait = float64(c.maxWait)
	}
	// ±20% jitter
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
