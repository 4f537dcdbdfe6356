package ai

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errorKind
	}{
		{"canceled", context.Canceled, kindPermanent},
		{"deadline", context.DeadlineExceeded, kindTransient},
		{"rate limit", &openai.APIError{HTTPStatusCode: 429}, kindRateLimited},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, kindTransient},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, kindPermanent},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401}, kindPermanent},
		{"unknown", stderrors.New("connection reset"), kindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestNewProviderDefaults(t *testing.T) {
	p := NewProvider(&Config{APIKey: "sk-test"})

	assert.Equal(t, 3, p.config.MaxRetries)
	assert.Equal(t, "text-embedding-3-small", p.config.EmbeddingModel)
	assert.Greater(t, p.config.Multiplier, 1.0)
}
