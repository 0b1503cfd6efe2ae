package decay

import (
	"regexp"
	"strings"

	"github.com/scrypster/engramind/internal/quantize"
	"github.com/scrypster/engramind/pkg/engram"
)

// JaccardThreshold and CosineThreshold gate near-duplicate detection
// (spec.md §4.6): a pair must exceed both to become a ConsolidationCandidate.
const (
	JaccardThreshold = 0.6
	CosineThreshold  = 0.85
)

// ConsolidationCandidate is a transient pair of ids with similarity scores,
// per spec.md §3's "Auxiliary entities".
type ConsolidationCandidate struct {
	OlderID   int64
	NewerID   int64
	Jaccard   float64
	Cosine    float64
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenSet(content string) map[string]bool {
	tokens := tokenPattern.FindAllString(strings.ToLower(content), -1)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// Jaccard computes the Jaccard overlap of the normalized token sets of a
// and b.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	var intersection, union int
	seen := map[string]bool{}
	for t := range setA {
		seen[t] = true
		if setB[t] {
			intersection++
		}
	}
	union = len(setA)
	for t := range setB {
		if !seen[t] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// FindNearDuplicates scans candidates pairwise (same recent window, per
// spec.md §4.6) and returns ConsolidationCandidates whose Jaccard and
// cosine similarity both exceed their thresholds. The older engram (by
// InsertedAt) is OlderID; the newer is NewerID, since "the younger engram
// is set to supersede the older".
func FindNearDuplicates(candidates []*engram.Engram) []ConsolidationCandidate {
	var out []ConsolidationCandidate
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			if !a.HasEmbedding() || !b.HasEmbedding() {
				continue
			}
			jac := Jaccard(a.Content, b.Content)
			if jac < JaccardThreshold {
				continue
			}
			cos, err := quantize.CosineF32(a.EmbeddingF32, b.EmbeddingF32)
			if err != nil || float64(cos) < CosineThreshold {
				continue
			}
			older, newer := a, b
			if newer.InsertedAt.Before(older.InsertedAt) {
				older, newer = newer, older
			}
			out = append(out, ConsolidationCandidate{
				OlderID: older.ID,
				NewerID: newer.ID,
				Jaccard: jac,
				Cosine:  float64(cos),
			})
		}
	}
	return out
}
