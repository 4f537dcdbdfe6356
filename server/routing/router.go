// Package routing selects the generation model tier for a query and
// drives the generation call.
package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/time/rate"

	engerrors "github.com/valtricai/consulting-engine/internal/errors"
	"github.com/valtricai/consulting-engine/server/ai"
	"github.com/valtricai/consulting-engine/server/finops"
	"github.com/valtricai/consulting-engine/server/queryengine"
	"github.com/valtricai/consulting-engine/server/retrieval"
)

// Persona is the caller-selected consultant role. It sets a floor on
// the model tier and shapes the system instruction.
type Persona string

const (
	PersonaAssociate     Persona = "associate"
	PersonaPartner       Persona = "partner"
	PersonaSeniorPartner Persona = "senior_partner"
)

// ParsePersona validates a caller-supplied persona string. Empty input
// defaults to partner.
func ParsePersona(s string) (Persona, error) {
	switch Persona(s) {
	case PersonaAssociate, PersonaPartner, PersonaSeniorPartner:
		return Persona(s), nil
	case "":
		return PersonaPartner, nil
	default:
		return "", engerrors.Validationf("unknown persona: %s", s)
	}
}

// ModelTier names one of the configured generation tiers.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierBalanced ModelTier = "balanced"
	TierDeep     ModelTier = "deep"
)

// tierRank orders tiers so floors can only upgrade.
var tierRank = map[ModelTier]int{
	TierFast:     0,
	TierBalanced: 1,
	TierDeep:     2,
}

// personaFloors is the minimum tier per persona.
var personaFloors = map[Persona]ModelTier{
	PersonaAssociate:     TierFast,
	PersonaPartner:       TierBalanced,
	PersonaSeniorPartner: TierBalanced,
}

// complexityTiers maps the analyzer's classification to a default tier.
var complexityTiers = map[queryengine.Tier]ModelTier{
	queryengine.TierSimple:   TierFast,
	queryengine.TierModerate: TierBalanced,
	queryengine.TierComplex:  TierDeep,
}

// Decision is the routing outcome for one query.
type Decision struct {
	Model        string
	Tier         ModelTier
	Persona      Persona
	FloorApplied bool
	MaxTokens    int
}

// Telemetry reports what the generation call actually did. It is
// returned to the caller; nothing here is persisted by the engine.
type Telemetry struct {
	TraceID          string
	Model            string
	Tier             ModelTier
	PromptTokens     int
	CompletionTokens int
	LatencyMs        int64
	CostUSD          float64
}

// Result is a generated answer plus its routing record.
type Result struct {
	Content   string
	Decision  Decision
	Telemetry Telemetry
}

// ChatProvider is the generation dependency.
type ChatProvider interface {
	Chat(ctx context.Context, model string, messages []ai.Message, maxTokens int) (string, ai.Usage, error)
}

// Config carries the tier table and generation limits.
type Config struct {
	ModelFast     string
	ModelBalanced string
	ModelDeep     string

	// FastMaxTokens bounds fast and balanced tier completions;
	// DeepMaxTokens gives the reasoning tier a larger budget.
	FastMaxTokens int
	DeepMaxTokens int

	RatePerSecond float64
	RateBurst     int
	Timeout       time.Duration
}

// DefaultConfig returns the stock tier table.
func DefaultConfig() Config {
	return Config{
		ModelFast:     "gpt-5-mini",
		ModelBalanced: "gpt-5-mini",
		ModelDeep:     "o4-mini",
		FastMaxTokens: 800,
		DeepMaxTokens: 4000,
		RatePerSecond: 5,
		RateBurst:     10,
		Timeout:       2 * time.Minute,
	}
}

// Router picks a model tier from complexity and persona and calls the
// generation provider.
type Router struct {
	provider ChatProvider
	prices   *finops.PriceTable
	limiter  *rate.Limiter
	config   Config
	logger   *slog.Logger
}

// NewRouter creates a router. prices may be nil, in which case the
// default price table is used.
func NewRouter(provider ChatProvider, prices *finops.PriceTable, config Config, logger *slog.Logger) *Router {
	if prices == nil {
		prices = finops.DefaultPriceTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		provider: provider,
		prices:   prices,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RateBurst),
		config:   config,
		logger:   logger,
	}
}

// Route deterministically selects the model tier for a (complexity,
// persona) pair. The persona floor only ever upgrades the
// complexity-driven default.
func (r *Router) Route(complexity queryengine.Complexity, persona Persona) Decision {
	tier, ok := complexityTiers[complexity.Tier]
	if !ok {
		tier = TierBalanced
	}

	floorApplied := false
	if floor, ok := personaFloors[persona]; ok && tierRank[floor] > tierRank[tier] {
		tier = floor
		floorApplied = true
	}

	return Decision{
		Model:        r.modelFor(tier),
		Tier:         tier,
		Persona:      persona,
		FloorApplied: floorApplied,
		MaxTokens:    r.budgetFor(tier),
	}
}

// Answer routes the query and calls the generation provider with the
// fused evidence as grounding context.
func (r *Router) Answer(ctx context.Context, query string, persona Persona, complexity queryengine.Complexity, evidence *retrieval.FusedEvidence, history []ai.Message) (*Result, error) {
	decision := r.Route(complexity, persona)
	traceID := shortuuid.New()

	// One reservation per request. Saturation is reported to the
	// caller with a retry hint instead of queueing silently.
	reservation := r.limiter.Reserve()
	if !reservation.OK() {
		return nil, engerrors.RateLimited("generation limiter rejected request", 0)
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return nil, engerrors.RateLimited("generation rate limit exceeded", delay)
	}

	messages := buildMessages(query, persona, evidence, history)

	callCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	content, usage, err := r.provider.Chat(callCtx, decision.Model, messages, decision.MaxTokens)
	latency := time.Since(start)
	if err != nil {
		if engerrors.IsCode(err, engerrors.CodeRateLimited) || engerrors.IsCode(err, engerrors.CodeContextCanceled) {
			return nil, err
		}
		return nil, engerrors.GenerationUnavailable(err)
	}

	promptTokens := usage.PromptTokens
	completionTokens := usage.CompletionTokens
	if promptTokens == 0 && completionTokens == 0 {
		// Some providers omit usage; fall back to a rough estimate so
		// cost telemetry is never silently zero.
		for _, m := range messages {
			promptTokens += finops.ApproxTokens(m.Content)
		}
		completionTokens = finops.ApproxTokens(content)
	}

	telemetry := Telemetry{
		TraceID:          traceID,
		Model:            decision.Model,
		Tier:             decision.Tier,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		LatencyMs:        latency.Milliseconds(),
		CostUSD:          r.prices.EstimateCost(decision.Model, promptTokens, completionTokens),
	}

	r.logger.InfoContext(ctx, "generation complete",
		"trace_id", traceID,
		"model", decision.Model,
		"tier", string(decision.Tier),
		"persona", string(persona),
		"floor_applied", decision.FloorApplied,
		"latency_ms", telemetry.LatencyMs,
		"cost_usd", telemetry.CostUSD,
	)

	return &Result{Content: content, Decision: decision, Telemetry: telemetry}, nil
}

func (r *Router) modelFor(tier ModelTier) string {
	switch tier {
	case TierDeep:
		return r.config.ModelDeep
	case TierBalanced:
		return r.config.ModelBalanced
	default:
		return r.config.ModelFast
	}
}

func (r *Router) budgetFor(tier ModelTier) int {
	if tier == TierDeep {
		return r.config.DeepMaxTokens
	}
	return r.config.FastMaxTokens
}
