// Package ai wraps the external embedding and generation provider behind
// a retrying client with explicit transient/permanent error classification.
package ai

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/valtricai/consulting-engine/internal/errors"
)

// Config holds the provider configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	MaxRetries     int
	BaseDelay      time.Duration
	Multiplier     float64
}

// DefaultConfig returns the default provider configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.openai.com/v1",
		EmbeddingModel: "text-embedding-3-small",
		MaxRetries:     3,
		BaseDelay:      500 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// Usage mirrors the provider's token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Provider is the retrying client for embeddings and chat completions.
type Provider struct {
	client *openai.Client
	config *Config
}

// NewProvider creates a provider from cfg, filling in defaults.
func NewProvider(cfg *Config) *Provider {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

// Embedding generates embedding vectors for the given texts in one call.
func (p *Provider) Embedding(ctx context.Context, dimensions int, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := p.doWithRetry(ctx, "embedding", func() error {
		req := openai.EmbeddingRequest{
			Input:      texts,
			Model:      openai.EmbeddingModel(p.config.EmbeddingModel),
			Dimensions: dimensions,
		}
		resp, err := p.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return stderrors.New("embedding response size mismatch")
		}
		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vectors[i] = data.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// Chat performs a chat completion against the given model.
func (p *Provider) Chat(ctx context.Context, model string, messages []Message, maxTokens int) (string, Usage, error) {
	var content string
	var usage Usage
	err := p.doWithRetry(ctx, "chat", func() error {
		llmMessages := make([]openai.ChatCompletionMessage, len(messages))
		for i, msg := range messages {
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			}
		}

		req := openai.ChatCompletionRequest{
			Model:               model,
			Messages:            llmMessages,
			MaxCompletionTokens: maxTokens,
		}
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return stderrors.New("empty chat response")
		}
		content = resp.Choices[0].Message.Content
		usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
		return nil
	})
	if err != nil {
		return "", Usage{}, err
	}
	return content, usage, nil
}

// errorKind classifies a provider failure for the retry loop.
type errorKind int

const (
	kindTransient errorKind = iota
	kindPermanent
	kindRateLimited
)

// classify maps a provider error to a retry class. Timeouts count as
// transient; caller cancellation is never retried.
func classify(err error) errorKind {
	if stderrors.Is(err, context.Canceled) {
		return kindPermanent
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return kindTransient
	}

	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return kindRateLimited
		case apiErr.HTTPStatusCode >= 500:
			return kindTransient
		default:
			return kindPermanent
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return kindTransient
	}

	// Unclassifiable failures are assumed transient and consumed by the
	// bounded retry budget.
	return kindTransient
}

// doWithRetry executes fn with exponential backoff, retrying transient
// failures only. Exhausted retries escalate as a structured error.
func (p *Provider) doWithRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	delay := p.config.BaseDelay

	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		switch classify(err) {
		case kindPermanent:
			if stderrors.Is(err, context.Canceled) {
				return errors.Canceled(err)
			}
			return errors.Provider(op+" failed", err)
		case kindRateLimited:
			// A single rate-limit response still gets the remaining retry
			// budget; persistent 429s escalate as RATE_LIMITED below.
		}

		if attempt < p.config.MaxRetries-1 {
			slog.Debug("provider call failed, retrying",
				"op", op,
				"attempt", attempt+1,
				"wait", delay,
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Canceled(ctx.Err())
			}
			delay = time.Duration(float64(delay) * p.config.Multiplier)
		}
	}

	if classify(lastErr) == kindRateLimited {
		return errors.RateLimited("provider rate limit on "+op, retryAfter(lastErr))
	}
	return errors.Provider(op+" failed after retries", lastErr)
}

// retryAfter extracts a retry hint from a rate-limit error if present.
func retryAfter(err error) time.Duration {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return time.Minute
	}
	return 0
}
