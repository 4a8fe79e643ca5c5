package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Row is the column-level projection of a learning record as stored in the
// relational table: scalar columns plus an opaque metadata blob.
type Row struct {
	ID        string
	Title     string
	Category  string
	Content   string
	Metadata  string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SplitRecord converts a record into its column projection. Structured
// content is summarized into the searchable content column and preserved
// verbatim in the metadata blob for lossless reconstruction.
func SplitRecord(r *LearningRecord) (Row, error) {
	meta := make(map[string]json.RawMessage, len(r.Extra)+1)
	for k, v := range r.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return Row{}, fmt.Errorf("marshal metadata key %q: %w", k, err)
		}
		meta[k] = raw
	}
	if r.Content.IsStructured() {
		meta[metaKeyStructuredContent] = r.Content.Structured()
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Row{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return Row{
		ID:        r.ID,
		Title:     r.Title,
		Category:  r.Category,
		Content:   r.Content.SearchText(),
		Metadata:  string(metaJSON),
		Source:    r.Source,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// MergeRow reconstructs a full record from its column projection and
// metadata blob. Precedence is explicit: core scalar columns always win;
// the metadata blob reconstructs structured content and fills the Extra bag.
// A malformed metadata blob degrades to a text-only record rather than
// failing the read.
func MergeRow(row Row) *LearningRecord {
	rec := &LearningRecord{
		ID:        row.ID,
		Title:     row.Title,
		Category:  row.Category,
		Content:   TextContent(row.Content),
		Source:    row.Source,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Metadata == "" {
		return rec
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
		return rec
	}
	if raw, ok := meta[metaKeyStructuredContent]; ok {
		if content, err := StructuredContent(raw); err == nil {
			rec.Content = content
		}
		delete(meta, metaKeyStructuredContent)
	}
	if len(meta) > 0 {
		rec.Extra = make(map[string]any, len(meta))
		for k, raw := range meta {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				continue
			}
			rec.Extra[k] = v
		}
		if len(rec.Extra) == 0 {
			rec.Extra = nil
		}
	}
	return rec
}
