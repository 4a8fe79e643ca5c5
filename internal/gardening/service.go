package gardening

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/chishiki/internal/models"
	"github.com/hyperjump/chishiki/internal/store"
	"github.com/hyperjump/chishiki/internal/syncer"
	"github.com/hyperjump/chishiki/internal/vector"
	"github.com/hyperjump/chishiki/pkg/utils"
)

// CompletionService produces text completions for fact extraction.
// Implementations wrap whatever LLM endpoint is configured.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options controls one gardening run.
type Options struct {
	// DryRun computes everything but persists nothing.
	DryRun bool
	// DeepMode extracts facts from every record regardless of score.
	DeepMode bool
	// MaxWorkers bounds concurrent completion calls. Zero uses the
	// service default.
	MaxWorkers int
}

// Service runs the gardening passes over the whole knowledge base.
type Service struct {
	store      store.Store
	sync       *syncer.Engine
	backend    vector.Backend
	provider   embedderProvider
	scorer     *Scorer
	completion CompletionService
	logger     *zap.Logger

	dedupeThreshold    float64
	extractionMinScore float64
	maxWorkers         int
}

// embedderProvider is the slice of the embedding provider the service
// needs.
type embedderProvider interface {
	EmbedDense(ctx context.Context, text string) ([]float32, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithCompletion sets the completion service used for fact extraction.
// Without one, the extraction pass is skipped.
func WithCompletion(c CompletionService) Option {
	return func(s *Service) { s.completion = c }
}

// WithDedupeThreshold sets the similarity above which two records are
// linked as duplicates.
func WithDedupeThreshold(t float64) Option {
	return func(s *Service) {
		if t > 0 {
			s.dedupeThreshold = t
		}
	}
}

// WithExtractionMinScore sets the importance floor for fact extraction.
func WithExtractionMinScore(min float64) Option {
	return func(s *Service) { s.extractionMinScore = min }
}

// WithMaxWorkers sets the default extraction concurrency.
func WithMaxWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

// NewService creates a gardening service. backend may be nil; dedup
// then always runs in memory.
func NewService(st store.Store, sync *syncer.Engine, backend vector.Backend, provider embedderProvider, scorer *Scorer, opts ...Option) *Service {
	s := &Service{
		store:              st,
		sync:               sync,
		backend:            backend,
		provider:           provider,
		scorer:             scorer,
		logger:             zap.NewNop(),
		dedupeThreshold:    0.92,
		extractionMinScore: 0.4,
		maxWorkers:         4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Garden runs the maintenance passes in order: score every record,
// link duplicates, extract fact statements from high-value records,
// and report what happened. Scores are persisted record by record so a
// failure partway keeps the progress made.
func (s *Service) Garden(ctx context.Context, collection string, opts Options) (models.GardenReport, error) {
	var report models.GardenReport

	records := s.store.GetAll(ctx)
	if len(records) == 0 {
		return report, nil
	}

	now := time.Now()
	for _, record := range records {
		if _, scored := record.ImportanceScore(); scored {
			continue
		}
		score, tier := s.scorer.Score(record, now)
		record.SetScore(score, tier)
		if !opts.DryRun {
			if err := s.store.Upsert(ctx, record); err != nil {
				return report, fmt.Errorf("failed to persist score for %s: %w", record.ID, err)
			}
		}
		report.Scored++
	}

	pairs, err := s.dedupPairs(ctx, collection, records)
	if err != nil {
		s.logger.Warn("dedup pass failed, skipping", zap.Error(err))
	} else {
		for _, record := range linkDuplicates(records, pairs) {
			if !opts.DryRun {
				if err := s.store.Upsert(ctx, record); err != nil {
					return report, fmt.Errorf("failed to persist links for %s: %w", record.ID, err)
				}
			}
			report.Deduped++
		}
	}

	extracted, skipped, err := s.extractFacts(ctx, records, opts)
	if err != nil {
		return report, err
	}
	report.Extracted = extracted
	report.SkippedExtraction = skipped

	s.logger.Info("gardening complete",
		zap.Int("scored", report.Scored),
		zap.Int("deduped", report.Deduped),
		zap.Int("extracted", report.Extracted),
		zap.Int("skipped_extraction", report.SkippedExtraction),
		zap.Bool("dry_run", opts.DryRun))
	return report, nil
}

// extractFacts asks the completion service for a distilled fact
// statement per candidate record, bounded by the worker limit. Records
// below the score floor are skipped unless deep mode is on.
func (s *Service) extractFacts(ctx context.Context, records []*models.LearningRecord, opts Options) (extracted, skipped int, err error) {
	var candidates []*models.LearningRecord
	for _, record := range records {
		if record.HasFactStatement() {
			continue
		}
		// Records resolved as duplicates keep pointing at their
		// canonical record instead of getting their own fact.
		if record.DuplicateOf() != "" {
			skipped++
			continue
		}
		score, _ := record.ImportanceScore()
		if !opts.DeepMode && score < s.extractionMinScore {
			skipped++
			continue
		}
		candidates = append(candidates, record)
	}
	if len(candidates) == 0 {
		return 0, skipped, nil
	}
	if s.completion == nil {
		s.logger.Debug("no completion service configured, skipping fact extraction",
			zap.Int("candidates", len(candidates)))
		return 0, skipped + len(candidates), nil
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = s.maxWorkers
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, record := range candidates {
		record := record
		g.Go(func() error {
			fact, err := s.extractOne(gctx, record)
			if err != nil {
				s.logger.Warn("fact extraction failed",
					zap.String("record_id", record.ID), zap.Error(err))
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			record.SetFactStatement(fact)
			if !opts.DryRun {
				if err := s.store.Upsert(gctx, record); err != nil {
					return fmt.Errorf("failed to persist fact for %s: %w", record.ID, err)
				}
			}
			mu.Lock()
			extracted++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return extracted, skipped, err
	}
	return extracted, skipped, nil
}

func (s *Service) extractOne(ctx context.Context, record *models.LearningRecord) (models.FactStatement, error) {
	prompt := buildExtractionPrompt(record)
	raw, err := s.completion.Complete(ctx, prompt)
	if err != nil {
		return models.FactStatement{}, err
	}
	return parseFactStatement(raw)
}

func buildExtractionPrompt(record *models.LearningRecord) string {
	var b strings.Builder
	b.WriteString("Distill the following learning record into a single reusable fact.\n")
	b.WriteString("Respond with JSON only: {\"title\": ..., \"category\": ..., \"description\": ...}\n\n")
	fmt.Fprintf(&b, "Title: %s\n", record.Title)
	fmt.Fprintf(&b, "Category: %s\n", record.Category)
	fmt.Fprintf(&b, "Content: %s\n", utils.Truncate(record.Content.SearchText(), 4000))
	return b.String()
}

// parseFactStatement parses a completion response, tolerating markdown
// code fences around the JSON.
func parseFactStatement(raw string) (models.FactStatement, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	var fact models.FactStatement
	if err := json.Unmarshal([]byte(text), &fact); err != nil {
		return models.FactStatement{}, fmt.Errorf("completion response is not valid JSON: %w", err)
	}
	if fact.Title == "" || fact.Description == "" {
		return models.FactStatement{}, fmt.Errorf("completion response is missing title or description")
	}
	return fact, nil
}
