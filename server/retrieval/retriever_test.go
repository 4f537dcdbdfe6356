package retrieval

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valtricai/consulting-engine/internal/errors"
	"github.com/valtricai/consulting-engine/server/vector"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

type fakeSource struct {
	name     string
	hits     []vector.Candidate
	err      error
	delay    time.Duration
	gotScope string
	gotK     int
}

func (f *fakeSource) Search(ctx context.Context, _ []float32, scope string, k int) ([]vector.Candidate, error) {
	f.gotScope = scope
	f.gotK = k
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeSource) Name() string { return f.name }

func newTestRetriever(global, tenant vector.Source) *Retriever {
	return NewRetriever(&fakeEmbedder{vec: []float32{1, 0, 0}}, global, tenant, DefaultConfig(), nil)
}

func TestRetrieveFusesBothSources(t *testing.T) {
	global := &fakeSource{name: "global", hits: globalCandidates("g1", "g2", "g3")}
	tenant := &fakeSource{name: "tenant", hits: tenantCandidates("t1", "t2")}
	r := newTestRetriever(global, tenant)

	got, err := r.Retrieve(context.Background(), "What is SWOT analysis?", "acme", 10)
	require.NoError(t, err)

	assert.False(t, got.Partial)
	assert.Len(t, got.Candidates, 5)
	assert.Equal(t, "acme", tenant.gotScope)
	assert.Equal(t, 10, global.gotK)

	seen := make(map[string]bool)
	for _, sc := range got.Candidates {
		assert.False(t, seen[sc.ID], "duplicate id %s", sc.ID)
		seen[sc.ID] = true
	}
}

func TestRetrieveTruncatesToK(t *testing.T) {
	global := &fakeSource{name: "global", hits: globalCandidates("g1", "g2", "g3", "g4")}
	tenant := &fakeSource{name: "tenant", hits: tenantCandidates("t1", "t2", "t3")}
	r := newTestRetriever(global, tenant)

	got, err := r.Retrieve(context.Background(), "pricing strategy", "acme", 3)
	require.NoError(t, err)
	assert.Len(t, got.Candidates, 3)
}

func TestRetrievePartialWhenTenantFails(t *testing.T) {
	global := &fakeSource{name: "global", hits: globalCandidates("g1", "g2", "g3")}
	tenant := &fakeSource{name: "tenant", err: errors.SourceUnavailable("tenant", stderrors.New("down"))}
	r := newTestRetriever(global, tenant)

	got, err := r.Retrieve(context.Background(), "market analysis", "acme", 10)
	require.NoError(t, err, "single-source failure must not raise")

	assert.True(t, got.Partial)
	assert.Equal(t, "tenant", got.DegradedSource)
	require.Len(t, got.Candidates, 3)
	for _, sc := range got.Candidates {
		assert.Equal(t, vector.SourceGlobal, sc.Source)
	}
}

func TestRetrievePartialWhenGlobalFails(t *testing.T) {
	global := &fakeSource{name: "global", err: errors.SourceUnavailable("global", stderrors.New("down"))}
	tenant := &fakeSource{name: "tenant", hits: tenantCandidates("t1")}
	r := newTestRetriever(global, tenant)

	got, err := r.Retrieve(context.Background(), "hiring plan", "acme", 10)
	require.NoError(t, err)

	assert.True(t, got.Partial)
	assert.Equal(t, "global", got.DegradedSource)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, "tenant:t1", got.Candidates[0].ID)
}

func TestRetrieveFailsWhenBothSourcesFail(t *testing.T) {
	global := &fakeSource{name: "global", err: errors.SourceUnavailable("global", stderrors.New("g down"))}
	tenant := &fakeSource{name: "tenant", err: errors.SourceUnavailable("tenant", stderrors.New("t down"))}
	r := newTestRetriever(global, tenant)

	got, err := r.Retrieve(context.Background(), "anything", "acme", 10)
	require.Error(t, err)
	assert.Nil(t, got, "no partial result on total failure")
	assert.True(t, errors.IsCode(err, errors.CodeRetrievalUnavailable))
	assert.Contains(t, err.Error(), "g down")
	assert.Contains(t, err.Error(), "t down")
}

func TestRetrieveEmptySourceIsNotAnError(t *testing.T) {
	global := &fakeSource{name: "global", hits: globalCandidates("g1")}
	tenant := &fakeSource{name: "tenant"} // zero candidates, no error
	r := newTestRetriever(global, tenant)

	got, err := r.Retrieve(context.Background(), "niche question", "acme", 10)
	require.NoError(t, err)
	assert.False(t, got.Partial, "zero candidates is success, not degradation")
	assert.Len(t, got.Candidates, 1)
}

func TestRetrieveRunsSourcesConcurrently(t *testing.T) {
	const delay = 100 * time.Millisecond
	global := &fakeSource{name: "global", delay: delay, hits: globalCandidates("g1")}
	tenant := &fakeSource{name: "tenant", delay: delay, hits: tenantCandidates("t1")}
	r := newTestRetriever(global, tenant)

	start := time.Now()
	_, err := r.Retrieve(context.Background(), "latency check", "acme", 10)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 2*delay, "source searches must overlap, not run back to back")
}

func TestRetrieveSourceTimeoutDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SearchTimeout = 20 * time.Millisecond

	global := &fakeSource{name: "global", hits: globalCandidates("g1")}
	tenant := &fakeSource{name: "tenant", delay: 200 * time.Millisecond, hits: tenantCandidates("t1")}
	r := NewRetriever(&fakeEmbedder{vec: []float32{1}}, global, tenant, cfg, nil)

	got, err := r.Retrieve(context.Background(), "slow tenant", "acme", 10)
	require.NoError(t, err)
	assert.True(t, got.Partial)
	assert.Equal(t, "tenant", got.DegradedSource)
}

func TestRetrieveEmbeddingFailurePropagates(t *testing.T) {
	embErr := errors.Provider("embedding failed", stderrors.New("down"))
	r := NewRetriever(&fakeEmbedder{err: embErr}, &fakeSource{name: "global"}, &fakeSource{name: "tenant"}, DefaultConfig(), nil)

	_, err := r.Retrieve(context.Background(), "anything", "acme", 10)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeProviderError))
}

func TestRetrieveRejectsNonPositiveK(t *testing.T) {
	r := newTestRetriever(&fakeSource{name: "global"}, &fakeSource{name: "tenant"})

	_, err := r.Retrieve(context.Background(), "anything", "acme", 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestRetrieveCallerCancellation(t *testing.T) {
	global := &fakeSource{name: "global", delay: time.Second, hits: globalCandidates("g1")}
	tenant := &fakeSource{name: "tenant", delay: time.Second, hits: tenantCandidates("t1")}
	r := newTestRetriever(global, tenant)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Retrieve(ctx, "abandoned", "acme", 10)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeContextCanceled))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cancellation must abort in-flight searches")
}
