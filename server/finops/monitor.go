package finops

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// QueryCostRecord is the per-query accounting entry the engine emits
// after every answered (or failed) query.
type QueryCostRecord struct {
	Timestamp time.Time
	ScopeID   string
	Tier      string
	Model     string

	PromptTokens     int
	CompletionTokens int
	CostUSD          float64

	LatencyMs   int64
	ResultCount int
	Partial     bool
}

// Recorder receives cost records. The in-memory Monitor implements it;
// callers that persist records plug in their own.
type Recorder interface {
	Record(ctx context.Context, record *QueryCostRecord) error
}

// TierStats aggregates usage per model tier.
type TierStats struct {
	Tier         string
	QueryCount   int64
	CostUSD      float64
	AvgLatencyMs float64
	AvgResults   float64
	LastUpdated  time.Time
}

// Monitor is an in-memory, mutex-guarded usage aggregator.
type Monitor struct {
	logger *slog.Logger

	mu     sync.RWMutex
	byTier map[string]*TierStats
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger,
		byTier: make(map[string]*TierStats),
	}
}

// Record folds a cost record into the per-tier running aggregates.
func (m *Monitor) Record(ctx context.Context, record *QueryCostRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if record.Tier == "" {
		return errors.New("tier cannot be empty")
	}
	if record.CostUSD < 0 {
		return errors.Errorf("cost cannot be negative: %f", record.CostUSD)
	}
	if record.LatencyMs < 0 {
		return errors.Errorf("latency cannot be negative: %d", record.LatencyMs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.byTier[record.Tier]
	if !ok {
		stats = &TierStats{Tier: record.Tier}
		m.byTier[record.Tier] = stats
	}
	stats.QueryCount++
	stats.CostUSD += record.CostUSD
	n := float64(stats.QueryCount)
	stats.AvgLatencyMs += (float64(record.LatencyMs) - stats.AvgLatencyMs) / n
	stats.AvgResults += (float64(record.ResultCount) - stats.AvgResults) / n
	stats.LastUpdated = record.Timestamp

	m.logger.DebugContext(ctx, "recorded query cost",
		"tier", record.Tier,
		"model", record.Model,
		"cost_usd", record.CostUSD,
		"latency_ms", record.LatencyMs,
	)
	return nil
}

// Stats returns a snapshot of the per-tier aggregates.
func (m *Monitor) Stats() map[string]TierStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]TierStats, len(m.byTier))
	for tier, stats := range m.byTier {
		out[tier] = *stats
	}
	return out
}

// TotalCost returns the accumulated cost across all tiers.
func (m *Monitor) TotalCost() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, stats := range m.byTier {
		total += stats.CostUSD
	}
	return total
}
