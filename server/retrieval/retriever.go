// Package retrieval orchestrates dual-corpus similarity search and rank
// fusion into a single evidence list.
package retrieval

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valtricai/consulting-engine/internal/errors"
	"github.com/valtricai/consulting-engine/server/vector"
)

// Config holds the retriever knobs.
type Config struct {
	// FusionConstant is the RRF damping constant c.
	FusionConstant int
	// SearchTimeout bounds each per-source similarity query.
	SearchTimeout time.Duration
	// DedupEnabled turns on near-duplicate collapsing across sources.
	DedupEnabled bool
	// DedupThreshold is the token-overlap ratio above which two texts
	// from different sources count as the same span.
	DedupThreshold float64
}

// DefaultConfig returns the default retriever configuration.
func DefaultConfig() Config {
	return Config{
		FusionConstant: DefaultFusionConstant,
		SearchTimeout:  10 * time.Second,
		DedupEnabled:   false,
		DedupThreshold: 0.9,
	}
}

// Embedder produces the query vector shared by both sources.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FusedEvidence is the retriever's result: a deduplicated, re-ranked
// evidence list with at most the caller's k entries.
type FusedEvidence struct {
	Candidates []ScoredCandidate
	// Partial is true when exactly one source failed and the result
	// degraded to the surviving source.
	Partial bool
	// DegradedSource names the failed source when Partial is set.
	DegradedSource string
}

// Retriever fans out to the global and tenant sources concurrently and
// fuses their ranked lists.
type Retriever struct {
	embedder Embedder
	global   vector.Source
	tenant   vector.Source
	config   Config
	logger   *slog.Logger
}

// NewRetriever creates a retriever over the two corpus sources.
func NewRetriever(embedder Embedder, global, tenant vector.Source, cfg Config, logger *slog.Logger) *Retriever {
	if cfg.FusionConstant < 1 {
		cfg.FusionConstant = DefaultFusionConstant
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		global:   global,
		tenant:   tenant,
		config:   cfg,
		logger:   logger,
	}
}

// Retrieve embeds the query once, searches both corpora concurrently, and
// returns the fused evidence truncated to k entries.
func (r *Retriever) Retrieve(ctx context.Context, query, scope string, k int) (*FusedEvidence, error) {
	if k <= 0 {
		return nil, errors.Validation("k must be positive")
	}

	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var globalHits, tenantHits []vector.Candidate
	var globalErr, tenantErr error

	// Both sources run concurrently; end-to-end latency is the max of the
	// two, not the sum. Errors are collected, not propagated through the
	// group, so the partial-failure policy below stays linear.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		globalHits, globalErr = r.searchOne(gctx, r.global, queryVector, scope, k)
		return nil
	})
	g.Go(func() error {
		tenantHits, tenantErr = r.searchOne(gctx, r.tenant, queryVector, scope, k)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(err)
	}

	result := &FusedEvidence{}
	switch {
	case globalErr != nil && tenantErr != nil:
		return nil, errors.RetrievalUnavailable(stderrors.Join(globalErr, tenantErr))
	case globalErr != nil:
		r.logger.Warn("global source degraded, using tenant candidates only",
			"error", globalErr, "tenant_candidates", len(tenantHits))
		result.Partial = true
		result.DegradedSource = r.global.Name()
	case tenantErr != nil:
		r.logger.Warn("tenant source degraded, using global candidates only",
			"error", tenantErr, "global_candidates", len(globalHits))
		result.Partial = true
		result.DegradedSource = r.tenant.Name()
	}

	fused := fuse([][]vector.Candidate{globalHits, tenantHits}, r.config.FusionConstant)
	if r.config.DedupEnabled {
		fused = collapseNearDuplicates(fused, r.config.DedupThreshold)
	}
	if len(fused) > k {
		fused = fused[:k]
	}
	result.Candidates = fused

	r.logger.Debug("retrieval complete",
		"global_candidates", len(globalHits),
		"tenant_candidates", len(tenantHits),
		"fused", len(fused),
		"partial", result.Partial)

	return result, nil
}

// searchOne runs a single source query under its own timeout.
func (r *Retriever) searchOne(ctx context.Context, src vector.Source, vec []float32, scope string, k int) ([]vector.Candidate, error) {
	sctx, cancel := context.WithTimeout(ctx, r.config.SearchTimeout)
	defer cancel()

	hits, err := src.Search(sctx, vec, scope, k)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.SourceUnavailable(src.Name(), err)
		}
		return nil, err
	}
	return hits, nil
}
