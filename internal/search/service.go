package search

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var ErrIndexUnavailable = errors.New("search: meilisearch is not available")

// Fallback answers queries when Meilisearch is absent or unhealthy and is the
// source of truth for reindexing.
type Fallback interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]NoteRecord, error)
}

// indexer is the write side of Meili, narrowed for tests.
type indexer interface {
	Searcher
	IndexNote(note NoteRecord) error
	IndexNotes(notes []NoteRecord) error
	DeleteNote(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to the store.
type Service struct {
	meili    indexer
	fallback Fallback
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Fallback, logger *zap.Logger) *Service {
	s := &Service{fallback: fallback, logger: logger}
	if meili != nil {
		s.meili = meili
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search: meilisearch error, falling back", zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("search: fallback error", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexNote indexes a note (fire-and-forget to Meilisearch).
func (s *Service) IndexNote(note NoteRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexNote(note); err != nil {
			s.logger.Warn("search: index note", zap.String("note_id", note.ID), zap.Error(err))
		}
	}()
}

// DeleteNote removes a note from the search index (fire-and-forget).
func (s *Service) DeleteNote(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteNote(id); err != nil {
			s.logger.Warn("search: delete note", zap.String("note_id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every stored note into Meilisearch and returns the count.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.meiliReady() {
		return 0, ErrIndexUnavailable
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.meili.IndexNotes(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Status reports the index backend state for readiness checks.
func (s *Service) Status() string {
	switch {
	case s.meili == nil:
		return "disabled"
	case s.meili.Healthy():
		return "ok"
	default:
		return "unavailable"
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
