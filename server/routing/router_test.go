package routing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/valtricai/consulting-engine/internal/errors"
	"github.com/valtricai/consulting-engine/server/ai"
	"github.com/valtricai/consulting-engine/server/queryengine"
	"github.com/valtricai/consulting-engine/server/retrieval"
	"github.com/valtricai/consulting-engine/server/vector"
)

type fakeChat struct {
	content string
	usage   ai.Usage
	err     error

	gotModel     string
	gotMessages  []ai.Message
	gotMaxTokens int
}

func (f *fakeChat) Chat(_ context.Context, model string, messages []ai.Message, maxTokens int) (string, ai.Usage, error) {
	f.gotModel = model
	f.gotMessages = messages
	f.gotMaxTokens = maxTokens
	if f.err != nil {
		return "", ai.Usage{}, f.err
	}
	return f.content, f.usage, nil
}

func complexityOf(tier queryengine.Tier) queryengine.Complexity {
	return queryengine.Complexity{Tier: tier, Score: 0.5, Confidence: 0.8}
}

func TestParsePersona(t *testing.T) {
	for _, valid := range []string{"associate", "partner", "senior_partner"} {
		p, err := ParsePersona(valid)
		require.NoError(t, err)
		assert.EqualValues(t, valid, p)
	}

	p, err := ParsePersona("")
	require.NoError(t, err)
	assert.Equal(t, PersonaPartner, p)

	_, err = ParsePersona("intern")
	assert.True(t, engerrors.IsCode(err, engerrors.CodeValidation))
}

func TestRouteTierTable(t *testing.T) {
	r := NewRouter(&fakeChat{}, nil, DefaultConfig(), nil)

	tests := []struct {
		name         string
		complexity   queryengine.Tier
		persona      Persona
		wantTier     ModelTier
		wantFloor    bool
	}{
		{"simple associate stays fast", queryengine.TierSimple, PersonaAssociate, TierFast, false},
		{"moderate associate is balanced", queryengine.TierModerate, PersonaAssociate, TierBalanced, false},
		{"complex associate upgrades to deep", queryengine.TierComplex, PersonaAssociate, TierDeep, false},
		{"simple partner hits balanced floor", queryengine.TierSimple, PersonaPartner, TierBalanced, true},
		{"simple senior partner hits balanced floor", queryengine.TierSimple, PersonaSeniorPartner, TierBalanced, true},
		{"complex senior partner stays deep", queryengine.TierComplex, PersonaSeniorPartner, TierDeep, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Route(complexityOf(tt.complexity), tt.persona)
			assert.Equal(t, tt.wantTier, got.Tier)
			assert.Equal(t, tt.wantFloor, got.FloorApplied)
			assert.Equal(t, tt.persona, got.Persona)
		})
	}
}

func TestRouteTokenBudgets(t *testing.T) {
	r := NewRouter(&fakeChat{}, nil, DefaultConfig(), nil)

	deep := r.Route(complexityOf(queryengine.TierComplex), PersonaAssociate)
	assert.Equal(t, "o4-mini", deep.Model)
	assert.Equal(t, 4000, deep.MaxTokens)

	fast := r.Route(complexityOf(queryengine.TierSimple), PersonaAssociate)
	assert.Equal(t, "gpt-5-mini", fast.Model)
	assert.Equal(t, 800, fast.MaxTokens)
}

func TestRouteDeterministic(t *testing.T) {
	r := NewRouter(&fakeChat{}, nil, DefaultConfig(), nil)

	first := r.Route(complexityOf(queryengine.TierModerate), PersonaSeniorPartner)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, r.Route(complexityOf(queryengine.TierModerate), PersonaSeniorPartner))
	}
}

func evidenceFixture() *retrieval.FusedEvidence {
	return &retrieval.FusedEvidence{
		Candidates: []retrieval.ScoredCandidate{
			{Candidate: vector.Candidate{ID: "global:g1", Text: "SWOT assesses strengths and weaknesses.", Source: vector.SourceGlobal}},
			{Candidate: vector.Candidate{ID: "tenant:t1", Text: "Acme's Q2 revenue fell 8%.", Source: vector.SourceTenant}},
		},
	}
}

func TestAnswerHappyPath(t *testing.T) {
	provider := &fakeChat{
		content: "Here is the analysis.",
		usage:   ai.Usage{PromptTokens: 120, CompletionTokens: 40},
	}
	r := NewRouter(provider, nil, DefaultConfig(), nil)

	history := []ai.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	got, err := r.Answer(context.Background(), "What is SWOT analysis?", PersonaSeniorPartner,
		complexityOf(queryengine.TierSimple), evidenceFixture(), history)
	require.NoError(t, err)

	assert.Equal(t, "Here is the analysis.", got.Content)
	assert.Equal(t, TierBalanced, got.Decision.Tier)
	assert.NotEmpty(t, got.Telemetry.TraceID)
	assert.Equal(t, 120, got.Telemetry.PromptTokens)
	assert.Equal(t, 40, got.Telemetry.CompletionTokens)
	assert.Greater(t, got.Telemetry.CostUSD, 0.0)

	// System instruction carries persona block and evidence labels.
	require.NotEmpty(t, provider.gotMessages)
	system := provider.gotMessages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "Executive Consultant")
	assert.Contains(t, system.Content, "[Frameworks]")
	assert.Contains(t, system.Content, "[Client]")
	assert.Contains(t, system.Content, "SWOT assesses strengths")

	// History sits between the system message and the query.
	require.Len(t, provider.gotMessages, 4)
	assert.Equal(t, "earlier question", provider.gotMessages[1].Content)
	assert.Equal(t, "user", provider.gotMessages[3].Role)
	assert.Equal(t, "What is SWOT analysis?", provider.gotMessages[3].Content)
}

func TestAnswerNoEvidence(t *testing.T) {
	provider := &fakeChat{content: "ok"}
	r := NewRouter(provider, nil, DefaultConfig(), nil)

	_, err := r.Answer(context.Background(), "hello", PersonaAssociate,
		complexityOf(queryengine.TierSimple), nil, nil)
	require.NoError(t, err)
	assert.NotContains(t, provider.gotMessages[0].Content, "[Frameworks]")
	assert.NotContains(t, provider.gotMessages[0].Content, "[Client]")
}

func TestAnswerEstimatesTokensWhenUsageMissing(t *testing.T) {
	provider := &fakeChat{content: "a generated answer with some length to it"}
	r := NewRouter(provider, nil, DefaultConfig(), nil)

	got, err := r.Answer(context.Background(), "What is SWOT analysis?", PersonaAssociate,
		complexityOf(queryengine.TierSimple), evidenceFixture(), nil)
	require.NoError(t, err)
	assert.Greater(t, got.Telemetry.PromptTokens, 0)
	assert.Greater(t, got.Telemetry.CompletionTokens, 0)
	assert.Greater(t, got.Telemetry.CostUSD, 0.0)
}

func TestAnswerProviderFailureIsTerminal(t *testing.T) {
	provider := &fakeChat{err: engerrors.Provider("boom", nil)}
	r := NewRouter(provider, nil, DefaultConfig(), nil)

	_, err := r.Answer(context.Background(), "question", PersonaPartner,
		complexityOf(queryengine.TierModerate), nil, nil)
	assert.True(t, engerrors.IsCode(err, engerrors.CodeGenerationUnavailable))
}

func TestAnswerProviderRateLimitPassesThrough(t *testing.T) {
	provider := &fakeChat{err: engerrors.RateLimited("provider 429", time.Minute)}
	r := NewRouter(provider, nil, DefaultConfig(), nil)

	_, err := r.Answer(context.Background(), "question", PersonaPartner,
		complexityOf(queryengine.TierModerate), nil, nil)
	assert.True(t, engerrors.IsCode(err, engerrors.CodeRateLimited))
}

func TestAnswerClientRateLimiter(t *testing.T) {
	provider := &fakeChat{content: "ok"}
	config := DefaultConfig()
	config.RatePerSecond = 0.01
	config.RateBurst = 1
	r := NewRouter(provider, nil, config, nil)

	_, err := r.Answer(context.Background(), "first", PersonaPartner,
		complexityOf(queryengine.TierModerate), nil, nil)
	require.NoError(t, err)

	_, err = r.Answer(context.Background(), "second", PersonaPartner,
		complexityOf(queryengine.TierModerate), nil, nil)
	require.Error(t, err)
	assert.True(t, engerrors.IsCode(err, engerrors.CodeRateLimited))

	var ee *engerrors.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Greater(t, ee.RetryAfter, time.Duration(0))
}

func TestFormatEvidenceBuckets(t *testing.T) {
	out := formatEvidence(evidenceFixture())
	assert.True(t, strings.Index(out, "[Frameworks]") < strings.Index(out, "[Client]"))

	onlyTenant := &retrieval.FusedEvidence{
		Candidates: []retrieval.ScoredCandidate{
			{Candidate: vector.Candidate{ID: "tenant:t1", Text: "client fact", Source: vector.SourceTenant}},
		},
	}
	out = formatEvidence(onlyTenant)
	assert.NotContains(t, out, "[Frameworks]")
	assert.Contains(t, out, "[Client]")
}
