// Package consulting exposes the engine's single caller-facing entry
// point: validate, retrieve, route, generate.
package consulting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	engerrors "github.com/valtricai/consulting-engine/internal/errors"
	"github.com/valtricai/consulting-engine/internal/observability"
	"github.com/valtricai/consulting-engine/server/ai"
	"github.com/valtricai/consulting-engine/server/finops"
	"github.com/valtricai/consulting-engine/server/queryengine"
	"github.com/valtricai/consulting-engine/server/retrieval"
	"github.com/valtricai/consulting-engine/server/routing"
)

// State names a phase of the per-request lifecycle. States appear in
// logs and in the failure report; they are not persisted.
type State string

const (
	StateReceived   State = "received"
	StateRetrieving State = "retrieving"
	StatePartial    State = "partial"
	StateFull       State = "full"
	StateRouting    State = "routing"
	StateGenerating State = "generating"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Request is one consulting query.
type Request struct {
	Query   string
	Persona string
	ScopeID string
	// History is the prior conversation, oldest first.
	History []ai.Message
	// K caps the fused evidence list; zero uses the engine default.
	K int
}

// Response is the answer plus everything the caller needs for
// rendering, telemetry, and persistence.
type Response struct {
	RequestID string
	Answer    string

	Evidence   *retrieval.FusedEvidence
	Partial    bool
	Complexity queryengine.Complexity
	Decision   routing.Decision
	Telemetry  routing.Telemetry
}

// EvidenceRetriever is the retrieval dependency.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, query, scope string, k int) (*retrieval.FusedEvidence, error)
}

// AnswerRouter is the routing/generation dependency.
type AnswerRouter interface {
	Answer(ctx context.Context, query string, persona routing.Persona, complexity queryengine.Complexity, evidence *retrieval.FusedEvidence, history []ai.Message) (*routing.Result, error)
}

// Options tunes the engine facade.
type Options struct {
	// DefaultK caps evidence when the request leaves K unset.
	DefaultK int
	// MaxInFlight bounds concurrent queries engine-wide.
	MaxInFlight int64
	// Recorder, when set, receives one cost record per answered query.
	Recorder finops.Recorder
	Logger   *slog.Logger
}

// Engine orchestrates one query-response cycle.
type Engine struct {
	analyzer  *queryengine.Analyzer
	retriever EvidenceRetriever
	router    AnswerRouter
	recorder  finops.Recorder
	sem       *semaphore.Weighted
	defaultK  int
	logger    *slog.Logger
}

// NewEngine wires the facade over its collaborators.
func NewEngine(retriever EvidenceRetriever, router AnswerRouter, opts Options) *Engine {
	if opts.DefaultK <= 0 {
		opts.DefaultK = 10
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		analyzer:  queryengine.NewAnalyzer(),
		retriever: retriever,
		router:    router,
		recorder:  opts.Recorder,
		sem:       semaphore.NewWeighted(opts.MaxInFlight),
		defaultK:  opts.DefaultK,
		logger:    opts.Logger,
	}
}

// Answer runs the full pipeline for one request. Cancellation of ctx
// propagates to every in-flight provider call.
func (e *Engine) Answer(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, engerrors.Validation("query cannot be empty")
	}
	if strings.TrimSpace(req.ScopeID) == "" {
		return nil, engerrors.Validation("scope id cannot be empty")
	}
	persona, err := routing.ParsePersona(req.Persona)
	if err != nil {
		return nil, err
	}
	k := req.K
	if k <= 0 {
		k = e.defaultK
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, engerrors.Canceled(err)
	}
	defer e.sem.Release(1)

	rc := observability.NewRequestContext(e.logger, req.ScopeID, string(persona))
	ctx = observability.WithRequestContext(ctx, rc)

	state := StateReceived
	rc.Info("query received", slog.String(observability.LogFieldState, string(state)))

	state = StateRetrieving
	evidence, err := e.retriever.Retrieve(ctx, req.Query, req.ScopeID, k)
	if err != nil {
		return nil, e.fail(rc, state, err)
	}
	if evidence.Partial {
		state = StatePartial
		rc.Warn("retrieval degraded to single source",
			slog.String(observability.LogFieldState, string(state)),
			slog.String(observability.LogFieldSource, evidence.DegradedSource))
	} else {
		state = StateFull
		rc.Debug("retrieval complete",
			slog.String(observability.LogFieldState, string(state)),
			slog.Int("candidates", len(evidence.Candidates)))
	}

	state = StateRouting
	complexity := e.analyzer.Analyze(req.Query, len(req.History))
	rc.Debug("complexity analyzed",
		slog.String(observability.LogFieldState, string(state)),
		slog.String("tier", string(complexity.Tier)),
		slog.Float64("score", complexity.Score))

	state = StateGenerating
	result, err := e.router.Answer(ctx, req.Query, persona, complexity, evidence, req.History)
	if err != nil {
		return nil, e.fail(rc, state, err)
	}

	state = StateSucceeded
	rc.Info("query answered",
		slog.String(observability.LogFieldState, string(state)),
		slog.String(observability.LogFieldModel, result.Decision.Model),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()))

	e.record(ctx, rc, req, evidence, result)

	return &Response{
		RequestID:  rc.RequestID,
		Answer:     result.Content,
		Evidence:   evidence,
		Partial:    evidence.Partial,
		Complexity: complexity,
		Decision:   result.Decision,
		Telemetry:  result.Telemetry,
	}, nil
}

// fail logs the terminal state and passes the error through unchanged.
func (e *Engine) fail(rc *observability.RequestContext, at State, err error) error {
	rc.Error("query failed", err,
		slog.String(observability.LogFieldState, string(StateFailed)),
		slog.String("failed_at", string(at)),
		slog.String(observability.LogFieldErrorCode, string(engerrors.CodeOf(err, engerrors.CodeProviderError))),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
	return err
}

// record hands the cost record to the optional recorder. Recorder
// failures never fail the answered query.
func (e *Engine) record(ctx context.Context, rc *observability.RequestContext, req Request, evidence *retrieval.FusedEvidence, result *routing.Result) {
	if e.recorder == nil {
		return
	}
	rec := &finops.QueryCostRecord{
		Timestamp:        time.Now(),
		ScopeID:          req.ScopeID,
		Tier:             string(result.Decision.Tier),
		Model:            result.Decision.Model,
		PromptTokens:     result.Telemetry.PromptTokens,
		CompletionTokens: result.Telemetry.CompletionTokens,
		CostUSD:          result.Telemetry.CostUSD,
		LatencyMs:        rc.DurationMs(),
		ResultCount:      len(evidence.Candidates),
		Partial:          evidence.Partial,
	}
	if err := e.recorder.Record(ctx, rec); err != nil {
		rc.Warn("cost record dropped", slog.String("error", err.Error()))
	}
}
