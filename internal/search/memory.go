package search

import (
	"context"
	"strings"

	"studynotes/api/internal/store"
)

type noteMatcher interface {
	SearchNotes(ctx context.Context, text, noteType string) ([]store.Note, error)
	ListNotes(ctx context.Context, filter store.NoteFilter) ([]store.Note, error)
}

// Memory implements Searcher by substring matching in the memory store.
type Memory struct {
	notes noteMatcher
}

func NewMemory(notes noteMatcher) *Memory {
	return &Memory{notes: notes}
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalize(q)

	matches, err := m.notes.SearchNotes(ctx, q.Text, q.Type)
	if err != nil {
		return nil, 0, err
	}
	total := len(matches)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-q.Offset)
	for _, note := range matches[q.Offset:end] {
		results = append(results, Result{
			ID:      note.ID,
			Title:   note.Title,
			Snippet: note.Excerpt,
			Type:    note.Type,
			Date:    note.Date,
		})
	}
	return results, total, nil
}

// LoadAllRecords returns every stored note for full reindexing.
func (m *Memory) LoadAllRecords(ctx context.Context) ([]NoteRecord, error) {
	notes, err := m.notes.ListNotes(ctx, store.NoteFilter{})
	if err != nil {
		return nil, err
	}
	records := make([]NoteRecord, 0, len(notes))
	for _, note := range notes {
		records = append(records, RecordFromNote(note))
	}
	return records, nil
}
