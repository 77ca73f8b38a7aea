// Package search implements hybrid retrieval: vector and keyword strategies,
// reciprocal rank fusion and LLM reranking.
package search

import (
	"sort"

	"github.com/aimerfeng/docagent/internal/models"
	"github.com/google/uuid"
)

// DefaultRRFK is the rank constant of reciprocal rank fusion
const DefaultRRFK = 60

// Fuse merges ranked lists with reciprocal rank fusion. An item at 1-based
// rank r in a list contributes 1/(k+r); contributions for the same chunk are
// summed. The first payload seen for a chunk is kept and ties keep input order.
func Fuse(lists [][]models.SearchResult, k int) []models.SearchResult {
	if k <= 0 {
		k = DefaultRRFK
	}

	var order []uuid.UUID
	payload := make(map[uuid.UUID]models.SearchResult)
	scores := make(map[uuid.UUID]float64)

	for _, list := range lists {
		for i, r := range list {
			if _, seen := payload[r.ID]; !seen {
				payload[r.ID] = r
				order = append(order, r.ID)
			}
			scores[r.ID] += 1 / float64(k+i+1)
		}
	}

	fused := make([]models.SearchResult, 0, len(order))
	for _, id := range order {
		r := payload[id]
		score := scores[id]
		r.RRFScore = &score
		fused = append(fused, r)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return *fused[i].RRFScore > *fused[j].RRFScore
	})
	return fused
}
