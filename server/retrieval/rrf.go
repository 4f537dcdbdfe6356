package retrieval

import (
	"sort"
	"strings"

	"github.com/valtricai/consulting-engine/server/vector"
)

// DefaultFusionConstant is the damping factor for reciprocal rank fusion.
// 60 is the common default in information retrieval.
const DefaultFusionConstant = 60

// ScoredCandidate is a candidate annotated with its fused rank-fusion
// score and provenance.
type ScoredCandidate struct {
	vector.Candidate

	// FusedScore is the reciprocal-rank-fusion score across sources.
	FusedScore float64
	// BestRank is the candidate's best 1-based rank in any source.
	BestRank int
	// Provenance lists every source that contributed this entry. It has
	// more than one element only after near-duplicate collapsing.
	Provenance []vector.SourceTag
}

// fuse combines ranked per-source lists with reciprocal rank fusion:
// score = sum over sources of 1/(rank + c), rank 1-based. Candidates in a
// single source are scored by that source's term alone. The result is
// sorted by fused score descending, then best rank ascending, then
// (source, id) for a fully deterministic order.
func fuse(lists [][]vector.Candidate, c int) []ScoredCandidate {
	if c < 1 {
		c = DefaultFusionConstant
	}

	byID := make(map[string]*ScoredCandidate)
	var order []string

	for _, list := range lists {
		for i, cand := range list {
			rank := i + 1
			sc, ok := byID[cand.ID]
			if !ok {
				sc = &ScoredCandidate{
					Candidate:  cand,
					BestRank:   rank,
					Provenance: []vector.SourceTag{cand.Source},
				}
				byID[cand.ID] = sc
				order = append(order, cand.ID)
			} else if rank < sc.BestRank {
				sc.BestRank = rank
			}
			sc.FusedScore += 1.0 / float64(rank+c)
		}
	}

	fused := make([]ScoredCandidate, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}

	sortFused(fused)
	return fused
}

func sortFused(fused []ScoredCandidate) {
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		if fused[i].BestRank != fused[j].BestRank {
			return fused[i].BestRank < fused[j].BestRank
		}
		if fused[i].Source != fused[j].Source {
			return fused[i].Source < fused[j].Source
		}
		return fused[i].ID < fused[j].ID
	})
}

// collapseNearDuplicates merges entries from different sources whose
// normalized texts overlap at or above threshold (token Jaccard). The
// higher-scored entry survives and records both provenance tags.
func collapseNearDuplicates(fused []ScoredCandidate, threshold float64) []ScoredCandidate {
	if len(fused) < 2 {
		return fused
	}

	dropped := make(map[int]bool)
	tokens := make([]map[string]bool, len(fused))
	for i := range fused {
		tokens[i] = tokenSet(fused[i].Text)
	}

	// fused is sorted by score, so the earlier entry always survives.
	for i := range fused {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(fused); j++ {
			if dropped[j] || fused[i].Source == fused[j].Source {
				continue
			}
			if jaccard(tokens[i], tokens[j]) >= threshold {
				dropped[j] = true
				fused[i].Provenance = mergeProvenance(fused[i].Provenance, fused[j].Provenance)
			}
		}
	}

	if len(dropped) == 0 {
		return fused
	}
	out := make([]ScoredCandidate, 0, len(fused)-len(dropped))
	for i := range fused {
		if !dropped[i] {
			out = append(out, fused[i])
		}
	}
	return out
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(tok, ".,;:!?\"'()")] = true
	}
	delete(set, "")
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for tok := range small {
		if large[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func mergeProvenance(a, b []vector.SourceTag) []vector.SourceTag {
	seen := make(map[vector.SourceTag]bool, len(a))
	out := append([]vector.SourceTag(nil), a...)
	for _, tag := range a {
		seen[tag] = true
	}
	for _, tag := range b {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
