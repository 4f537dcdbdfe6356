// Package finops tracks cost and usage of provider calls.
package finops

import "sync"

// ModelPrice is the USD price per one million tokens.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PriceTable maps model ids to their token prices. Unknown models
// estimate to zero rather than failing the request.
type PriceTable struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice
}

// DefaultPriceTable returns a table seeded with the models the engine
// routes to by default.
func DefaultPriceTable() *PriceTable {
	return &PriceTable{
		prices: map[string]ModelPrice{
			"gpt-5-mini":             {InputPerMillion: 0.25, OutputPerMillion: 2.00},
			"o4-mini":                {InputPerMillion: 1.10, OutputPerMillion: 4.40},
			"text-embedding-3-small": {InputPerMillion: 0.02},
		},
	}
}

// Set overrides or adds the price for a model.
func (t *PriceTable) Set(model string, price ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[model] = price
}

// EstimateCost returns the USD cost of a call with the given token
// counts. Unknown models return 0.
func (t *PriceTable) EstimateCost(model string, promptTokens, completionTokens int) float64 {
	t.mu.RLock()
	price, ok := t.prices[model]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*price.InputPerMillion +
		float64(completionTokens)/1e6*price.OutputPerMillion
}

// EstimateEmbeddingCost returns the USD cost of embedding the given
// number of tokens.
func (t *PriceTable) EstimateEmbeddingCost(model string, tokens int) float64 {
	return t.EstimateCost(model, tokens, 0)
}

// ApproxTokens gives a rough token count for text when the provider
// does not return usage. Four characters per token is the usual
// English-text approximation.
func ApproxTokens(text string) int {
	return len(text) / 4
}
