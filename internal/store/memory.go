package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"studynotes/api/internal/media"
)

// MemoryStore keeps notes and recordings in process memory. It backs
// STORE_DRIVER=memory and the HTTP tests.
type MemoryStore struct {
	mu         sync.RWMutex
	notes      map[string]Note
	recordings map[string]AudioRecording
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notes:      make(map[string]Note),
		recordings: make(map[string]AudioRecording),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) ListNotes(_ context.Context, filter NoteFilter) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]Note, 0, len(s.notes))
	for _, item := range s.notes {
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		items = append(items, cloneNote(item))
	}
	sortNotes(items)
	return items, nil
}

// SearchNotes matches every whitespace-separated term, case-insensitively,
// against title, excerpt and content.
func (s *MemoryStore) SearchNotes(_ context.Context, text, noteType string) ([]Note, error) {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return []Note{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]Note, 0)
	for _, item := range s.notes {
		if noteType != "" && item.Type != noteType {
			continue
		}
		haystack := strings.ToLower(item.Title + "\n" + item.Excerpt + "\n" + item.Content)
		matched := true
		for _, term := range terms {
			if !strings.Contains(haystack, term) {
				matched = false
				break
			}
		}
		if matched {
			items = append(items, cloneNote(item))
		}
	}
	sortNotes(items)
	return items, nil
}

func (s *MemoryStore) GetNote(_ context.Context, noteID string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.notes[noteID]
	if !ok {
		return Note{}, ErrNotFound
	}
	return cloneNote(item), nil
}

func (s *MemoryStore) InsertNote(_ context.Context, item Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[item.ID] = cloneNote(item)
	return nil
}

func (s *MemoryStore) UpdateNote(_ context.Context, noteID string, patch NotePatch) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.notes[noteID]
	if !ok {
		return Note{}, ErrNotFound
	}
	item = patch.Apply(item)
	item.UpdatedAt = time.Now().UTC()
	s.notes[noteID] = item
	return cloneNote(item), nil
}

func (s *MemoryStore) DeleteNote(_ context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[noteID]; !ok {
		return ErrNotFound
	}
	delete(s.notes, noteID)
	// Mirrors ON DELETE SET NULL on audio_recordings.note_id.
	for id, recording := range s.recordings {
		if recording.NoteID == noteID {
			recording.NoteID = ""
			s.recordings[id] = recording
		}
	}
	return nil
}

// UploadInUse reports whether any note or recording still references the
// stored object name.
func (s *MemoryStore) UploadInUse(_ context.Context, name string) (bool, error) {
	url := media.URLFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.notes {
		if item.AudioURL == url {
			return true, nil
		}
		for _, imageURL := range item.ImageURLs {
			if imageURL == url {
				return true, nil
			}
		}
	}
	for _, recording := range s.recordings {
		if recording.Filename == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListRecordings(context.Context) ([]AudioRecording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]AudioRecording, 0, len(s.recordings))
	for _, item := range s.recordings {
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) GetRecording(_ context.Context, recordingID string) (AudioRecording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.recordings[recordingID]
	if !ok {
		return AudioRecording{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) InsertRecording(_ context.Context, item AudioRecording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[item.ID] = item
	return nil
}

func (s *MemoryStore) UpdateRecordingTranscript(_ context.Context, recordingID, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.recordings[recordingID]
	if !ok {
		return ErrNotFound
	}
	item.Transcript = transcript
	s.recordings[recordingID] = item
	return nil
}

// SeedDemo inserts the sample notes shown by the frontend before any data exists.
func (s *MemoryStore) SeedDemo() {
	base := time.Date(2025, time.April, 15, 9, 0, 0, 0, time.UTC)
	demo := []Note{
		{ID: "note_demo_1", Title: "Quantum Mechanics Lecture", Date: "April 15, 2025", Type: NoteTypeAudio, Excerpt: "Wave-particle duality and the double-slit experiment...", CreatedAt: base},
		{ID: "note_demo_2", Title: "Calculus Notes", Date: "April 14, 2025", Type: NoteTypeScan, Excerpt: "Integration by parts and applications...", CreatedAt: base.Add(-24 * time.Hour)},
		{ID: "note_demo_3", Title: "History of Computing", Date: "April 10, 2025", Type: NoteTypeHybrid, Excerpt: "The evolution of computers from vacuum tubes to...", CreatedAt: base.Add(-5 * 24 * time.Hour)},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range demo {
		item.UpdatedAt = item.CreatedAt
		s.notes[item.ID] = item
	}
}

func sortNotes(items []Note) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func cloneNote(item Note) Note {
	if item.ImageURLs != nil {
		item.ImageURLs = append([]string(nil), item.ImageURLs...)
	}
	return item
}
