package gardening

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/chishiki/internal/embedding"
	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/store"
	"github.com/hyperjump/chishiki/internal/syncer"
	"github.com/hyperjump/chishiki/internal/vector"
)

func TestTierFor_boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{1.0, models.TierDetailed},
		{0.8, models.TierDetailed},
		{0.79, models.TierCompressed},
		{0.5, models.TierCompressed},
		{0.49, models.TierPrinciple},
		{0.0, models.TierPrinciple},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestScorer_recency(t *testing.T) {
	s := NewScorer(90, 1, 0, 0, nil)
	now := time.Now()

	fresh := &models.LearningRecord{CreatedAt: now}
	if got := s.recency(fresh, now); got != 1 {
		t.Errorf("fresh recency = %v", got)
	}

	old := &models.LearningRecord{CreatedAt: now.AddDate(0, 0, -180)}
	if got := s.recency(old, now); got != 0 {
		t.Errorf("expired recency = %v", got)
	}

	unknown := &models.LearningRecord{}
	if got := s.recency(unknown, now); got != 0.5 {
		t.Errorf("missing timestamp recency = %v, want neutral 0.5", got)
	}
}

func TestScorer_impact(t *testing.T) {
	s := NewScorer(90, 0, 1, 0, []string{"security", "architecture"})

	base := &models.LearningRecord{Title: "plain", Category: "general",
		Content: models.TextContent("nothing special")}
	if got := s.impact(base); got != 0.5 {
		t.Errorf("baseline impact = %v", got)
	}

	loaded := &models.LearningRecord{
		Title:    "critical auth bypass",
		Category: "Security",
		Content:  models.TextContent("fix deployed"),
		Extra: map[string]any{
			models.ExtraKeyImprovements: []any{map[string]any{"title": "rotate keys"}},
		},
	}
	if got := s.impact(loaded); got != 1.0 {
		t.Errorf("fully loaded impact = %v, want capped 1.0", got)
	}

	// Two bonuses: 0.5 + 0.2 + 0.1 must come out exactly 0.8 despite
	// float accumulation.
	critical := &models.LearningRecord{
		Title:    "critical cache bug",
		Category: "Security",
		Content:  models.TextContent("writes lost on eviction"),
	}
	if got := s.impact(critical); got != 0.8 {
		t.Errorf("critical impact = %v, want 0.8", got)
	}
}

func TestScorer_score(t *testing.T) {
	s := NewScorer(90, 0.3, 0.5, 0.2, []string{"security"})
	now := time.Now()

	rec := &models.LearningRecord{
		Title:     "ordinary note",
		Category:  "general",
		Content:   models.TextContent("a thing happened"),
		CreatedAt: now,
	}
	score, tier := s.Score(rec, now)
	// 0.3*1 + 0.5*0.5 + 0.2*0.5
	if score != 0.65 {
		t.Errorf("score = %v, want 0.65", score)
	}
	if tier != models.TierCompressed {
		t.Errorf("tier = %q", tier)
	}
}

func TestParseFactStatement(t *testing.T) {
	plain := `{"title": "t", "category": "c", "description": "d"}`
	fact, err := parseFactStatement(plain)
	if err != nil {
		t.Fatal(err)
	}
	if fact.Title != "t" || fact.Description != "d" {
		t.Errorf("fact = %+v", fact)
	}

	fenced := "```json\n" + plain + "\n```"
	if _, err := parseFactStatement(fenced); err != nil {
		t.Errorf("fenced JSON rejected: %v", err)
	}

	if _, err := parseFactStatement("not json at all"); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := parseFactStatement(`{"title": "", "description": ""}`); err == nil {
		t.Error("expected error for empty fields")
	}
}

type fakeCompletion struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type gardenEnv struct {
	store   store.Store
	backend *vector.MemoryBackend
	service *Service
}

func newGardenEnv(t *testing.T, completion CompletionService, withBackend bool, extraOpts ...Option) *gardenEnv {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "kb.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	provider, err := embedding.NewProvider(embedding.ProviderOptions{
		Kind:       embedding.KindLocal,
		Dimensions: 64,
	}, embedding.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	var backend *vector.MemoryBackend
	var vb vector.Backend
	if withBackend {
		backend, _ = vector.NewMemoryBackend("")
		vb = backend
	}
	sync := syncer.NewEngine(vb, provider)
	scorer := NewScorer(90, 0.3, 0.5, 0.2, []string{"security", "architecture"})

	opts := []Option{WithDedupeThreshold(0.95), WithMaxWorkers(2)}
	if completion != nil {
		opts = append(opts, WithCompletion(completion))
	}
	opts = append(opts, extraOpts...)
	return &gardenEnv{
		store:   s,
		backend: backend,
		service: NewService(s, sync, vb, provider, scorer, opts...),
	}
}

func (e *gardenEnv) put(t *testing.T, rec *models.LearningRecord) {
	t.Helper()
	rec.EnsureDefaults(time.Now())
	if err := e.store.Upsert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func TestGarden_scoresAndPersists(t *testing.T) {
	env := newGardenEnv(t, nil, false)
	ctx := context.Background()
	env.put(t, &models.LearningRecord{ID: "r1", Title: "note",
		Content: models.TextContent("a lesson"), CreatedAt: time.Now()})

	report, err := env.service.Garden(ctx, "learnings", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Scored != 1 {
		t.Errorf("Scored = %d", report.Scored)
	}

	stored, err := env.store.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	score, ok := stored.ImportanceScore()
	if !ok {
		t.Fatal("score not persisted")
	}
	if score != 0.65 {
		t.Errorf("persisted score = %v", score)
	}
	if stored.CompressionTier() != models.TierCompressed {
		t.Errorf("tier = %q", stored.CompressionTier())
	}
}

func TestGarden_dryRunPersistsNothing(t *testing.T) {
	completion := &fakeCompletion{response: `{"title": "t", "category": "c", "description": "d"}`}
	env := newGardenEnv(t, completion, false)
	ctx := context.Background()
	env.put(t, &models.LearningRecord{ID: "r1", Title: "note",
		Content: models.TextContent("a lesson"), CreatedAt: time.Now()})

	report, err := env.service.Garden(ctx, "learnings", Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Scored != 1 || report.Extracted != 1 {
		t.Errorf("dry run should still compute: %+v", report)
	}

	stored, _ := env.store.Get(ctx, "r1")
	if _, ok := stored.ImportanceScore(); ok {
		t.Error("dry run persisted a score")
	}
	if stored.HasFactStatement() {
		t.Error("dry run persisted a fact statement")
	}
}

func TestGarden_linksDuplicatesBothDirections(t *testing.T) {
	env := newGardenEnv(t, nil, false)
	ctx := context.Background()
	// Identical descriptions embed identically, so similarity is maximal.
	env.put(t, &models.LearningRecord{ID: "a", Title: "timeout tuning",
		Content:   models.TextContent("set dial timeout below the lb idle timeout"),
		CreatedAt: time.Now(),
		Extra:     map[string]any{models.ExtraKeyDescription: "dial timeout must stay below the idle timeout"}})
	env.put(t, &models.LearningRecord{ID: "b", Title: "timeout tuning",
		Content:   models.TextContent("set dial timeout below the lb idle timeout"),
		CreatedAt: time.Now(),
		Extra:     map[string]any{models.ExtraKeyDescription: "dial timeout must stay below the idle timeout"}})
	env.put(t, &models.LearningRecord{ID: "c", Title: "unrelated parser quirk",
		Content:   models.TextContent("yaml anchors expand before merge keys apply"),
		CreatedAt: time.Now(),
		Extra:     map[string]any{models.ExtraKeyDescription: "yaml anchors expand before merge keys"}})
	// No description, never considered for dedup.
	env.put(t, &models.LearningRecord{ID: "d", Title: "timeout tuning",
		Content:   models.TextContent("set dial timeout below the lb idle timeout"),
		CreatedAt: time.Now()})

	report, err := env.service.Garden(ctx, "learnings", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deduped != 2 {
		t.Errorf("Deduped = %d, want 2", report.Deduped)
	}

	a, _ := env.store.Get(ctx, "a")
	b, _ := env.store.Get(ctx, "b")
	c, _ := env.store.Get(ctx, "c")
	if !containsID(a.RelatedIDs(), "b") || !containsID(b.RelatedIDs(), "a") {
		t.Errorf("links not bidirectional: a=%v b=%v", a.RelatedIDs(), b.RelatedIDs())
	}
	if len(c.RelatedIDs()) != 0 {
		t.Errorf("unrelated record got linked: %v", c.RelatedIDs())
	}
	d, _ := env.store.Get(ctx, "d")
	if len(d.RelatedIDs()) != 0 {
		t.Errorf("description-less record got linked: %v", d.RelatedIDs())
	}

	// Records must never be merged or removed by dedup.
	if n, _ := env.store.Count(ctx); n != 4 {
		t.Errorf("record count changed: %d", n)
	}

	// Re-running must not duplicate links.
	if _, err := env.service.Garden(ctx, "learnings", Options{}); err != nil {
		t.Fatal(err)
	}
	a, _ = env.store.Get(ctx, "a")
	if len(a.RelatedIDs()) != 1 {
		t.Errorf("links duplicated on re-run: %v", a.RelatedIDs())
	}
}

func TestGarden_extractionGate(t *testing.T) {
	completion := &fakeCompletion{response: `{"title": "t", "category": "c", "description": "d"}`}
	env := newGardenEnv(t, completion, false)
	ctx := context.Background()

	// Fresh record scores 0.65, above the extraction floor.
	env.put(t, &models.LearningRecord{ID: "high", Title: "useful lesson",
		Content: models.TextContent("connection pool exhaustion under load"), CreatedAt: time.Now()})
	// Expired record scores 0.35, below the floor.
	env.put(t, &models.LearningRecord{ID: "low", Title: "stale trivia",
		Content: models.TextContent("an old tool had a flag"), CreatedAt: time.Now().AddDate(-1, 0, 0)})

	report, err := env.service.Garden(ctx, "learnings", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Extracted != 1 || report.SkippedExtraction != 1 {
		t.Errorf("report = %+v", report)
	}

	high, _ := env.store.Get(ctx, "high")
	if !high.HasFactStatement() {
		t.Error("high-score record missing fact statement")
	}
	low, _ := env.store.Get(ctx, "low")
	if low.HasFactStatement() {
		t.Error("low-score record should have been skipped")
	}

	// Deep mode ignores the floor.
	deepReport, err := env.service.Garden(ctx, "learnings", Options{DeepMode: true})
	if err != nil {
		t.Fatal(err)
	}
	if deepReport.Extracted != 1 {
		t.Errorf("deep mode should extract the remaining record: %+v", deepReport)
	}
}

func TestGarden_extractionSkipsDuplicates(t *testing.T) {
	completion := &fakeCompletion{response: `{"title": "t", "category": "c", "description": "d"}`}
	env := newGardenEnv(t, completion, false)
	ctx := context.Background()

	env.put(t, &models.LearningRecord{ID: "canonical", Title: "pool exhaustion",
		Content: models.TextContent("connection pool exhaustion under load"), CreatedAt: time.Now()})
	// Already resolved as a duplicate; it must never get its own fact,
	// regardless of score.
	env.put(t, &models.LearningRecord{ID: "dupe", Title: "pool exhaustion again",
		Content: models.TextContent("connection pool exhaustion under load"), CreatedAt: time.Now(),
		Extra: map[string]any{models.ExtraKeyDuplicateOf: "canonical"}})

	report, err := env.service.Garden(ctx, "learnings", Options{DeepMode: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Extracted != 1 || report.SkippedExtraction != 1 {
		t.Errorf("report = %+v", report)
	}

	dupe, _ := env.store.Get(ctx, "dupe")
	if dupe.HasFactStatement() {
		t.Error("duplicate record should not receive a fact statement")
	}
	canonical, _ := env.store.Get(ctx, "canonical")
	if !canonical.HasFactStatement() {
		t.Error("canonical record missing fact statement")
	}
}

func TestGarden_extractionFailureIsSkipped(t *testing.T) {
	completion := &fakeCompletion{err: errors.New("model overloaded")}
	env := newGardenEnv(t, completion, false)
	ctx := context.Background()
	env.put(t, &models.LearningRecord{ID: "r1", Title: "note",
		Content: models.TextContent("a lesson"), CreatedAt: time.Now()})

	report, err := env.service.Garden(ctx, "learnings", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Extracted != 0 || report.SkippedExtraction != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestGarden_backendDedupStrategy(t *testing.T) {
	// Points carry full-text embeddings while the dedup query embeds
	// only the description, so the observed similarity is lower than
	// for identical texts.
	env := newGardenEnv(t, nil, true, WithDedupeThreshold(0.2))
	ctx := context.Background()
	recA := &models.LearningRecord{ID: "a", Title: "retry storm",
		Content:   models.TextContent("exponential backoff with jitter prevents retry storms"),
		CreatedAt: time.Now(),
		Extra:     map[string]any{models.ExtraKeyDescription: "use exponential backoff with jitter"}}
	recB := &models.LearningRecord{ID: "b", Title: "retry storm",
		Content:   models.TextContent("exponential backoff with jitter prevents retry storms"),
		CreatedAt: time.Now(),
		Extra:     map[string]any{models.ExtraKeyDescription: "use exponential backoff with jitter"}}
	env.put(t, recA)
	env.put(t, recB)

	// Points must exist in the backend for the delegated strategy.
	sync := env.service.sync
	if synced := sync.SyncAll(ctx, "learnings", []*models.LearningRecord{recA, recB}, 10); synced != 2 {
		t.Fatalf("setup sync: %d", synced)
	}

	report, err := env.service.Garden(ctx, "learnings", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deduped != 2 {
		t.Errorf("backend dedup linked %d records, want 2", report.Deduped)
	}
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
