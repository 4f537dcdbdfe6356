// Package vector defines the vector source contract and its adapters.
// One Source instance is bound to exactly one corpus and one similarity
// metric (cosine); similarity scores are 1 - cosine_distance in [0, 1].
package vector

import "context"

// SourceTag identifies which corpus produced a candidate.
type SourceTag string

const (
	// SourceGlobal is the shared consulting-framework corpus.
	SourceGlobal SourceTag = "global"
	// SourceTenant is the per-tenant private corpus.
	SourceTenant SourceTag = "tenant"
)

// Candidate is one ranked similarity hit from a single corpus. IDs are
// source-qualified ("global:..." / "tenant:...") so candidates from
// different corpora can never collide.
type Candidate struct {
	ID       string
	Text     string
	Score    float64
	Source   SourceTag
	Metadata map[string]string
}

// Source executes a similarity query against one corpus.
type Source interface {
	// Search returns up to k candidates ranked by descending similarity.
	// Fewer than k existing candidates are returned as-is, never padded.
	// Backing-service failures and timeouts surface as SOURCE_UNAVAILABLE.
	Search(ctx context.Context, vector []float32, scope string, k int) ([]Candidate, error)

	// Name returns the source tag as a string.
	Name() string
}

// QualifyID prefixes a raw corpus id with the source tag.
func QualifyID(tag SourceTag, raw string) string {
	return string(tag) + ":" + raw
}

// clampScore bounds a raw similarity into [0, 1].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
