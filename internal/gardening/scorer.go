// Package gardening maintains the knowledge base over time: scoring
// records by importance, linking near-duplicates, and extracting
// concise fact statements from high-value records.
package gardening

import (
	"math"
	"strings"
	"time"

	"github.com/hyperjump/chishiki/internal/models"
)

// Tier thresholds on the importance score.
const (
	tierDetailedMin   = 0.8
	tierCompressedMin = 0.5
)

// Scorer computes importance scores from recency and impact signals.
type Scorer struct {
	retentionDays int
	weightRecency float64
	weightImpact  float64
	weightPattern float64
	highStakes    map[string]bool
}

// NewScorer creates a scorer. Weights are expected to be normalized by
// the caller; retentionDays bounds the recency decay window.
func NewScorer(retentionDays int, weightRecency, weightImpact, weightPattern float64, highStakesCategories []string) *Scorer {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	highStakes := make(map[string]bool, len(highStakesCategories))
	for _, c := range highStakesCategories {
		highStakes[strings.ToLower(c)] = true
	}
	return &Scorer{
		retentionDays: retentionDays,
		weightRecency: weightRecency,
		weightImpact:  weightImpact,
		weightPattern: weightPattern,
		highStakes:    highStakes,
	}
}

// Score returns the weighted importance score in [0, 1], rounded to two
// decimals, and the compression tier it implies.
func (s *Scorer) Score(record *models.LearningRecord, now time.Time) (float64, string) {
	score := s.weightRecency*s.recency(record, now) +
		s.weightImpact*s.impact(record) +
		s.weightPattern*patternScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	score = math.Round(score*100) / 100
	return score, TierFor(score)
}

// TierFor maps a score to a compression tier.
func TierFor(score float64) string {
	switch {
	case score >= tierDetailedMin:
		return models.TierDetailed
	case score >= tierCompressedMin:
		return models.TierCompressed
	default:
		return models.TierPrinciple
	}
}

// patternScore is a fixed placeholder until cross-record pattern
// detection exists.
const patternScore = 0.5

// recency decays linearly from 1 to 0 over the retention window. A
// record without a usable timestamp gets a neutral 0.5.
func (s *Scorer) recency(record *models.LearningRecord, now time.Time) float64 {
	if record.CreatedAt.IsZero() {
		return 0.5
	}
	ageDays := now.Sub(record.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	r := 1 - ageDays/float64(s.retentionDays)
	if r < 0 {
		return 0
	}
	return r
}

// impact starts at a 0.5 baseline and rewards codified improvements,
// high-stakes categories, and explicitly critical content.
func (s *Scorer) impact(record *models.LearningRecord) float64 {
	score := 0.5
	if record.HasImprovements() {
		score += 0.2
	}
	if s.highStakes[strings.ToLower(record.Category)] {
		score += 0.2
	}
	text := strings.ToLower(record.Title + " " + record.Description() + " " + record.Content.SearchText())
	if strings.Contains(text, "critical") {
		score += 0.1
	}
	// Summing the tenths drifts below 1.0 in floating point, so round
	// before capping.
	score = math.Round(score*100) / 100
	if score > 1 {
		score = 1
	}
	return score
}
