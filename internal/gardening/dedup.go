package gardening

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/syncer"
	"github.com/hyperjump/chishiki/internal/vector"
	"github.com/hyperjump/chishiki/pkg/utils"
)

// pair is an unordered duplicate candidate, a < b by record index.
type pair struct {
	a, b int
}

// dedupCandidates filters records eligible for duplicate detection:
// not already resolved as a duplicate, and carrying a description to
// compare by. Returns indices into the original slice.
func dedupCandidates(records []*models.LearningRecord) []int {
	var out []int
	for i, record := range records {
		if record.DuplicateOf() != "" || record.Description() == "" {
			continue
		}
		out = append(out, i)
	}
	return out
}

// findDuplicatesBackend asks the vector backend for each candidate's
// nearest neighbors by description and keeps those above the
// similarity threshold. Scores come from the backend's metric, which
// approximates cosine for normalized embeddings.
func (s *Service) findDuplicatesBackend(ctx context.Context, collection string, records []*models.LearningRecord, candidates []int) ([]pair, error) {
	index := make(map[string]int, len(candidates))
	eligible := make(map[int]bool, len(candidates))
	for _, i := range candidates {
		index[records[i].ID] = i
		eligible[i] = true
	}

	seen := make(map[pair]bool)
	var pairs []pair
	for _, i := range candidates {
		dense, err := s.provider.EmbedDense(ctx, records[i].Description())
		if err != nil {
			return nil, err
		}
		hits, err := s.backend.Query(ctx, collection, vector.QueryRequest{
			Using: vector.UsingDense,
			Dense: dense,
			Limit: 6,
		})
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			if hit.Score < s.dedupeThreshold {
				continue
			}
			id, _ := hit.Payload[syncer.PayloadRecordID].(string)
			j, ok := index[id]
			if !ok || j == i || !eligible[j] {
				continue
			}
			p := pair{a: min(i, j), b: max(i, j)}
			if !seen[p] {
				seen[p] = true
				pairs = append(pairs, p)
			}
		}
	}
	return pairs, nil
}

// findDuplicatesInMemory embeds every candidate description and
// compares all pairs by cosine similarity. O(n^2), used when the
// vector backend is down.
func (s *Service) findDuplicatesInMemory(ctx context.Context, records []*models.LearningRecord, candidates []int) ([]pair, error) {
	embeddings := make(map[int][]float32, len(candidates))
	for _, i := range candidates {
		dense, err := s.provider.EmbedDense(ctx, records[i].Description())
		if err != nil {
			return nil, err
		}
		embeddings[i] = dense
	}

	var pairs []pair
	for x := 0; x < len(candidates); x++ {
		for y := x + 1; y < len(candidates); y++ {
			i, j := candidates[x], candidates[y]
			if utils.CosineSimilarity(embeddings[i], embeddings[j]) >= s.dedupeThreshold {
				pairs = append(pairs, pair{a: i, b: j})
			}
		}
	}
	return pairs, nil
}

// linkDuplicates cross-references each duplicate pair through
// related_ids in both directions. Records are never merged or deleted;
// the links leave the resolution to a human or a later pass. Returns
// the records that gained at least one link.
func linkDuplicates(records []*models.LearningRecord, pairs []pair) []*models.LearningRecord {
	changed := make(map[int]bool)
	for _, p := range pairs {
		if addRelated(records[p.a], records[p.b].ID) {
			changed[p.a] = true
		}
		if addRelated(records[p.b], records[p.a].ID) {
			changed[p.b] = true
		}
	}
	out := make([]*models.LearningRecord, 0, len(changed))
	for i, record := range records {
		if changed[i] {
			out = append(out, record)
		}
	}
	return out
}

func addRelated(record *models.LearningRecord, id string) bool {
	existing := record.RelatedIDs()
	for _, r := range existing {
		if r == id {
			return false
		}
	}
	record.SetRelatedIDs(append(existing, id))
	return true
}

// dedupPairs picks the strategy: backend nearest-neighbor search when
// the collection is usable, otherwise the in-memory matrix.
func (s *Service) dedupPairs(ctx context.Context, collection string, records []*models.LearningRecord) ([]pair, error) {
	candidates := dedupCandidates(records)
	if len(candidates) < 2 {
		return nil, nil
	}
	if s.backend != nil && s.sync.EnsureCollection(ctx, collection) {
		pairs, err := s.findDuplicatesBackend(ctx, collection, records, candidates)
		if err == nil {
			return pairs, nil
		}
		s.logger.Warn("backend dedup failed, using in-memory comparison", zap.Error(err))
	}
	return s.findDuplicatesInMemory(ctx, records, candidates)
}
