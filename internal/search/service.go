package search

import (
	"context"
	"fmt"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Backend
	fallback Searcher
	logger   *slog.Logger
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured; fallback may be nil when there is no database.
func NewService(primary Backend, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger}
}

// Search tries the primary backend if healthy, otherwise falls back.
func (s *Service) Search(_ context.Context, q Query) Response {
	q.Limit = normalizeLimit(q.Limit)
	if q.Offset < 0 {
		q.Offset = 0
	}

	if s.primaryReady() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search: meilisearch error, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("search: fallback error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// ReplaceSurvey removes the documents of a survey's previous structure and
// indexes the new one. The fallback reads the questions table directly and
// needs no indexing.
func (s *Service) ReplaceSurvey(_ context.Context, staleIDs []string, records []QuestionRecord) error {
	if !s.primaryReady() {
		return nil
	}
	if len(staleIDs) > 0 {
		if err := s.primary.DeleteQuestions(staleIDs); err != nil {
			return fmt.Errorf("delete stale questions: %w", err)
		}
	}
	if len(records) > 0 {
		if err := s.primary.IndexQuestions(records); err != nil {
			return fmt.Errorf("index questions: %w", err)
		}
	}
	return nil
}

// DeleteSurvey removes a deleted survey's questions from the index.
func (s *Service) DeleteSurvey(_ context.Context, questionIDs []string) error {
	if !s.primaryReady() || len(questionIDs) == 0 {
		return nil
	}
	if err := s.primary.DeleteQuestions(questionIDs); err != nil {
		return fmt.Errorf("delete survey questions: %w", err)
	}
	return nil
}

// Reindex pushes records into the primary index. Called at startup so an
// empty or recovered Meilisearch catches up with storage.
func (s *Service) Reindex(_ context.Context, records []QuestionRecord) {
	if !s.primaryReady() || len(records) == 0 {
		return
	}
	if err := s.primary.IndexQuestions(records); err != nil {
		s.logger.Warn("search: reindex questions", "error", err, "count", len(records))
	}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]QuestionRecord, error)
}

// ReindexFromStorage reads every question from the fallback store, when it
// can enumerate them, and pushes them into Meilisearch.
func (s *Service) ReindexFromStorage(ctx context.Context) {
	loader, ok := s.fallback.(recordLoader)
	if !ok || !s.primaryReady() {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("search: reindex load failed", "error", err)
		return
	}
	s.Reindex(ctx, records)
}
