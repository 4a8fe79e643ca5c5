package retrieval

import (
	"sort"

	"github.com/hyperjump/chishiki/internal/vector"
)

// RRF fuses ranked hit lists with reciprocal rank fusion. Each hit
// contributes 1/(k + rank) per list it appears in, with rank starting
// at 1, so items ranked well across lists beat items ranked top in one.
// Original per-list scores are discarded; only ranks matter.
func RRF(lists [][]vector.Hit, k int) []vector.Hit {
	if k <= 0 {
		k = 60
	}

	scores := make(map[string]float64)
	payloads := make(map[string]map[string]any)
	order := make([]string, 0)

	for _, list := range lists {
		for rank, hit := range list {
			if _, seen := scores[hit.ID]; !seen {
				order = append(order, hit.ID)
				payloads[hit.ID] = hit.Payload
			}
			scores[hit.ID] += 1.0 / float64(k+rank+1)
		}
	}

	fused := make([]vector.Hit, 0, len(order))
	for _, id := range order {
		fused = append(fused, vector.Hit{ID: id, Score: scores[id], Payload: payloads[id]})
	}
	sort.SliceStable(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	return fused
}
