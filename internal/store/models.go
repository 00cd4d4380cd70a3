package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a note or recording does not exist.
var ErrNotFound = errors.New("store: not found")

const (
	NoteTypeAudio  = "audio"
	NoteTypeScan   = "scan"
	NoteTypeHybrid = "hybrid"
)

// NoteTypes lists every accepted note type.
var NoteTypes = []string{NoteTypeAudio, NoteTypeScan, NoteTypeHybrid}

type Note struct {
	ID        string
	Title     string
	Date      string
	Type      string
	Excerpt   string
	Content   string
	AudioURL  string
	ImageURLs []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotePatch carries a partial note update. Nil fields are left untouched.
type NotePatch struct {
	Title     *string
	Date      *string
	Type      *string
	Excerpt   *string
	Content   *string
	AudioURL  *string
	ImageURLs *[]string
}

// Empty reports whether the patch changes nothing.
func (p NotePatch) Empty() bool {
	return p.Title == nil && p.Date == nil && p.Type == nil && p.Excerpt == nil &&
		p.Content == nil && p.AudioURL == nil && p.ImageURLs == nil
}

// Apply returns note with the patch applied.
func (p NotePatch) Apply(note Note) Note {
	if p.Title != nil {
		note.Title = *p.Title
	}
	if p.Date != nil {
		note.Date = *p.Date
	}
	if p.Type != nil {
		note.Type = *p.Type
	}
	if p.Excerpt != nil {
		note.Excerpt = *p.Excerpt
	}
	if p.Content != nil {
		note.Content = *p.Content
	}
	if p.AudioURL != nil {
		note.AudioURL = *p.AudioURL
	}
	if p.ImageURLs != nil {
		note.ImageURLs = append([]string(nil), (*p.ImageURLs)...)
	}
	return note
}

type NoteFilter struct {
	Type string
}

type AudioRecording struct {
	ID         string
	Title      string
	Date       string
	Filename   string
	Duration   float64
	Transcript string
	NoteID     string
	Checksum   string
	CreatedAt  time.Time
}
