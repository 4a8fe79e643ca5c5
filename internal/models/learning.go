// Package models defines core data structures for learning records, vector
// points, and gardening results.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Reserved metadata keys handled by the merge/split logic. The structured
// content side-channel key carries the original content object for records
// whose content is not plain text.
const (
	metaKeyStructuredContent = "structured_content"

	// Well-known extra keys written by the gardening service.
	ExtraKeyTags           = "tags"
	ExtraKeyRelatedIDs     = "related_ids"
	ExtraKeyDuplicateOf    = "duplicate_of"
	ExtraKeyImportance     = "importance_score"
	ExtraKeyTier           = "compression_tier"
	ExtraKeyFactStatement  = "fact_statement"
	ExtraKeyDescription    = "description"
	ExtraKeyImprovements   = "codified_improvements"
)

// Compression tiers derived from the importance score.
const (
	TierDetailed   = "detailed"
	TierCompressed = "compressed"
	TierPrinciple  = "principle"
)

// LearningRecord is a durably stored fact or pattern: a strongly-typed core
// plus an open Extra bag for everything else (tags, scores, links).
type LearningRecord struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Category  string         `json:"category"`
	Content   Content        `json:"content"`
	Source    string         `json:"source,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// FactStatement is the structured result of the gardening extraction phase.
type FactStatement struct {
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// GardenReport aggregates the result of one gardening run.
type GardenReport struct {
	Scored            int `json:"scored"`
	Deduped           int `json:"deduped"`
	Extracted         int `json:"extracted"`
	SkippedExtraction int `json:"skipped_extraction"`
}

// NewRecordID generates a record id from the current time plus a random
// suffix: stable, unique, and roughly sortable by creation time.
func NewRecordID(now time.Time) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s-%s", now.Format("20060102150405.000000"), hex.EncodeToString(suffix))
}

// EnsureDefaults assigns an id and creation time when missing.
func (r *LearningRecord) EnsureDefaults(now time.Time) {
	if r.ID == "" {
		r.ID = NewRecordID(now)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Title == "" {
		r.Title = "Untitled"
	}
	if r.Category == "" {
		r.Category = "general"
	}
}

// extra returns the Extra map, allocating it on first write.
func (r *LearningRecord) extra() map[string]any {
	if r.Extra == nil {
		r.Extra = make(map[string]any)
	}
	return r.Extra
}

// Description returns the free-form description from the metadata bag, if any.
func (r *LearningRecord) Description() string {
	s, _ := r.Extra[ExtraKeyDescription].(string)
	return s
}

// DuplicateOf returns the id this record is marked as a duplicate of, or "".
func (r *LearningRecord) DuplicateOf() string {
	s, _ := r.Extra[ExtraKeyDuplicateOf].(string)
	return s
}

// Tags returns the record's tags from the metadata bag. Values arrive as
// []any after a JSON round trip, so both shapes are accepted.
func (r *LearningRecord) Tags() []string {
	return stringSlice(r.Extra[ExtraKeyTags])
}

// RelatedIDs returns the ids of records linked by deduplication.
func (r *LearningRecord) RelatedIDs() []string {
	return stringSlice(r.Extra[ExtraKeyRelatedIDs])
}

// SetRelatedIDs replaces the related id list.
func (r *LearningRecord) SetRelatedIDs(ids []string) {
	r.extra()[ExtraKeyRelatedIDs] = ids
}

// ImportanceScore returns the gardening importance score and whether one has
// been assigned.
func (r *LearningRecord) ImportanceScore() (float64, bool) {
	switch v := r.Extra[ExtraKeyImportance].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// SetScore assigns the importance score and compression tier.
func (r *LearningRecord) SetScore(score float64, tier string) {
	e := r.extra()
	e[ExtraKeyImportance] = score
	e[ExtraKeyTier] = tier
}

// CompressionTier returns the assigned compression tier, or "".
func (r *LearningRecord) CompressionTier() string {
	s, _ := r.Extra[ExtraKeyTier].(string)
	return s
}

// HasFactStatement reports whether a fact statement was already extracted.
func (r *LearningRecord) HasFactStatement() bool {
	_, ok := r.Extra[ExtraKeyFactStatement]
	return ok
}

// SetFactStatement stores the extracted fact statement.
func (r *LearningRecord) SetFactStatement(f FactStatement) {
	r.extra()[ExtraKeyFactStatement] = map[string]any{
		"title":       f.Title,
		"category":    f.Category,
		"description": f.Description,
	}
}

// HasImprovements reports whether the record carries codified improvements.
func (r *LearningRecord) HasImprovements() bool {
	switch v := r.Extra[ExtraKeyImprovements].(type) {
	case []any:
		return len(v) > 0
	case []map[string]any:
		return len(v) > 0
	default:
		return false
	}
}

// Improvements returns the codified improvements as generic maps.
func (r *LearningRecord) Improvements() []map[string]any {
	var out []map[string]any
	switch v := r.Extra[ExtraKeyImprovements].(type) {
	case []map[string]any:
		return v
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
