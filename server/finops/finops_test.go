package finops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateCost(t *testing.T) {
	table := DefaultPriceTable()

	// 1M prompt tokens at $0.25 plus 1M completion tokens at $2.00.
	got := table.EstimateCost("gpt-5-mini", 1_000_000, 1_000_000)
	assert.InDelta(t, 2.25, got, 1e-9)

	got = table.EstimateCost("o4-mini", 500_000, 0)
	assert.InDelta(t, 0.55, got, 1e-9)
}

func TestEstimateCostUnknownModel(t *testing.T) {
	table := DefaultPriceTable()
	assert.Zero(t, table.EstimateCost("mystery-model", 1000, 1000))
}

func TestPriceTableOverride(t *testing.T) {
	table := DefaultPriceTable()
	table.Set("gpt-5-mini", ModelPrice{InputPerMillion: 1.0, OutputPerMillion: 1.0})
	assert.InDelta(t, 2.0, table.EstimateCost("gpt-5-mini", 1_000_000, 1_000_000), 1e-9)
}

func TestEstimateEmbeddingCost(t *testing.T) {
	table := DefaultPriceTable()
	assert.InDelta(t, 0.02, table.EstimateEmbeddingCost("text-embedding-3-small", 1_000_000), 1e-9)
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 3, ApproxTokens("twelve chars"))
	assert.Zero(t, ApproxTokens(""))
}

func TestMonitorRecordAggregates(t *testing.T) {
	m := NewMonitor(nil)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, &QueryCostRecord{
		Timestamp: time.Now(), Tier: "fast", Model: "gpt-5-mini",
		CostUSD: 0.001, LatencyMs: 100, ResultCount: 5,
	}))
	require.NoError(t, m.Record(ctx, &QueryCostRecord{
		Timestamp: time.Now(), Tier: "fast", Model: "gpt-5-mini",
		CostUSD: 0.003, LatencyMs: 300, ResultCount: 3,
	}))
	require.NoError(t, m.Record(ctx, &QueryCostRecord{
		Timestamp: time.Now(), Tier: "deep", Model: "o4-mini",
		CostUSD: 0.01, LatencyMs: 2000, ResultCount: 10,
	}))

	stats := m.Stats()
	require.Len(t, stats, 2)

	fast := stats["fast"]
	assert.EqualValues(t, 2, fast.QueryCount)
	assert.InDelta(t, 0.004, fast.CostUSD, 1e-9)
	assert.InDelta(t, 200, fast.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 4, fast.AvgResults, 1e-9)

	assert.InDelta(t, 0.014, m.TotalCost(), 1e-9)
}

func TestMonitorRecordValidation(t *testing.T) {
	m := NewMonitor(nil)
	ctx := context.Background()

	assert.Error(t, m.Record(ctx, nil))
	assert.Error(t, m.Record(ctx, &QueryCostRecord{Tier: ""}))
	assert.Error(t, m.Record(ctx, &QueryCostRecord{Tier: "fast", CostUSD: -1}))
	assert.Error(t, m.Record(ctx, &QueryCostRecord{Tier: "fast", LatencyMs: -1}))
	assert.Empty(t, m.Stats())
}

func TestMonitorConcurrentRecord(t *testing.T) {
	m := NewMonitor(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Record(ctx, &QueryCostRecord{
				Timestamp: time.Now(), Tier: "fast", Model: "gpt-5-mini",
				CostUSD: 0.001, LatencyMs: 10, ResultCount: 1,
			})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, m.Stats()["fast"].QueryCount)
}
