package search

import (
	"context"

	"studynotes/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Type    string `json:"type"`
	Date    string `json:"date"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Type   string // empty = all note types
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Content string `json:"content"`
	Type    string `json:"type"`
	Date    string `json:"date"`
}

func RecordFromNote(note store.Note) NoteRecord {
	return NoteRecord{
		ID:      note.ID,
		Title:   note.Title,
		Excerpt: note.Excerpt,
		Content: note.Content,
		Type:    note.Type,
		Date:    note.Date,
	}
}

func normalize(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
