package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"studynotes/api/internal/config"
	"studynotes/api/internal/export"
	"studynotes/api/internal/history"
	"studynotes/api/internal/media"
	"studynotes/api/internal/processing"
	"studynotes/api/internal/search"
	"studynotes/api/internal/staging"
	"studynotes/api/internal/store"
	"studynotes/api/internal/util"
)

const (
	excerptLength  = 100
	searchPageSize = 100
	audioExcerpt   = "Audio recording"
	noTranscript   = "Audio recording without transcript"
)

type dataStore interface {
	Ping(ctx context.Context) error
	ListNotes(context.Context, store.NoteFilter) ([]store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	InsertNote(context.Context, store.Note) error
	UpdateNote(context.Context, string, store.NotePatch) (store.Note, error)
	DeleteNote(context.Context, string) error
	ListRecordings(context.Context) ([]store.AudioRecording, error)
	GetRecording(context.Context, string) (store.AudioRecording, error)
	InsertRecording(context.Context, store.AudioRecording) error
	UpdateRecordingTranscript(context.Context, string, string) error
	UploadInUse(ctx context.Context, name string) (bool, error)
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexNote(note search.NoteRecord)
	DeleteNote(id string)
	Status() string
}

type historyService interface {
	Commit(noteID string, snap history.Snapshot, message string) (history.Revision, error)
	History(noteID string, limit int) ([]history.Revision, error)
	At(noteID, hash string) (history.Snapshot, history.Revision, []history.Change, error)
	Remove(noteID string) error
}

type exporter interface {
	Export(ctx context.Context, note store.Note, format export.Format) (*export.Result, error)
}

// Deps are the collaborators a Service is built from. History and the
// processors are optional; nil processors fall back to the mocks.
type Deps struct {
	Store       dataStore
	Media       media.Storage
	Staging     staging.Registry
	Search      searchService
	History     historyService
	Exporter    exporter
	Transcriber processing.Transcriber
	Recognizer  processing.Recognizer
	Logger      *zap.Logger
}

type Service struct {
	cfg         config.Config
	store       dataStore
	media       media.Storage
	staging     staging.Registry
	search      searchService
	history     historyService
	exporter    exporter
	transcriber processing.Transcriber
	recognizer  processing.Recognizer
	logger      *zap.Logger
	now         func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:         cfg,
		store:       deps.Store,
		media:       deps.Media,
		staging:     deps.Staging,
		search:      deps.Search,
		history:     deps.History,
		exporter:    deps.Exporter,
		transcriber: deps.Transcriber,
		recognizer:  deps.Recognizer,
		logger:      deps.Logger,
		now:         time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.staging == nil {
		s.staging = staging.NewMemoryRegistry()
	}
	if s.exporter == nil {
		s.exporter = export.NewService(0)
	}
	if s.transcriber == nil {
		s.transcriber = processing.MockTranscriber{Delay: cfg.TranscribeDelay}
	}
	if s.recognizer == nil {
		s.recognizer = processing.MockRecognizer{Delay: cfg.OCRDelay}
	}
	return s
}

type CreateNoteInput struct {
	Title     string   `json:"title" validate:"notblank"`
	Date      string   `json:"date" validate:"notblank"`
	Type      string   `json:"type" validate:"notetype"`
	Excerpt   string   `json:"excerpt" validate:"required"`
	Content   string   `json:"content"`
	AudioURL  string   `json:"audioUrl" validate:"omitempty,upload_url"`
	ImageURLs []string `json:"imageUrls" validate:"omitempty,dive,upload_url"`
}

// UpdateNoteInput is a partial update; nil fields are left untouched.
type UpdateNoteInput struct {
	Title     *string   `json:"title"`
	Date      *string   `json:"date"`
	Type      *string   `json:"type"`
	Excerpt   *string   `json:"excerpt"`
	Content   *string   `json:"content"`
	AudioURL  *string   `json:"audioUrl"`
	ImageURLs *[]string `json:"imageUrls"`
}

type MergeNotesInput struct {
	Title       string `json:"title" validate:"notblank"`
	Date        string `json:"date" validate:"notblank"`
	AudioNoteID string `json:"audioNoteId" validate:"required"`
	ScanNoteID  string `json:"scanNoteId" validate:"required"`
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ReadinessChecks reports the state of every backing service. The bool is
// false when a required dependency is down.
func (s *Service) ReadinessChecks(ctx context.Context) (map[string]any, bool) {
	ready := true
	checks := map[string]any{}

	report := func(name string, err error) {
		if err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	report("database", s.store.Ping(ctx))
	report("media", s.media.Ping(ctx))
	report("staging", s.staging.Ping(ctx))

	// Search degrades to the store fallback, so it never blocks readiness.
	if s.search != nil {
		checks["search"] = map[string]any{"status": s.search.Status()}
	}
	return checks, ready
}

// ListNotes returns notes newest first. A non-empty text query is answered
// by the search module and keeps its rank order; every match is returned.
func (s *Service) ListNotes(ctx context.Context, noteType, text string) ([]store.Note, error) {
	noteType = strings.ToLower(strings.TrimSpace(noteType))
	if noteType == "all" {
		noteType = ""
	}
	if noteType != "" && !validNoteType(noteType) {
		return nil, validationError("Invalid note type", map[string]string{
			"type": "type must be one of " + strings.Join(store.NoteTypes, ", "),
		})
	}

	text = strings.TrimSpace(text)
	if text == "" || s.search == nil {
		return s.store.ListNotes(ctx, store.NoteFilter{Type: noteType})
	}

	notes := make([]store.Note, 0)
	seen := make(map[string]bool)
	for offset := 0; ; {
		resp := s.search.Search(ctx, search.Query{Text: text, Type: noteType, Limit: searchPageSize, Offset: offset})
		for _, hit := range resp.Results {
			if seen[hit.ID] {
				continue
			}
			seen[hit.ID] = true
			note, err := s.store.GetNote(ctx, hit.ID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			notes = append(notes, note)
		}
		offset += len(resp.Results)
		if len(resp.Results) < searchPageSize || offset >= resp.Total {
			return notes, nil
		}
	}
}

func (s *Service) GetNote(ctx context.Context, noteID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, errNoteNotFound()
	}
	return note, err
}

func (s *Service) CreateNote(ctx context.Context, input CreateNoteInput) (store.Note, error) {
	if err := validateInput(input); err != nil {
		return store.Note{}, err
	}
	now := s.now().UTC()
	note := store.Note{
		ID:        util.NewID(util.NotePrefix),
		Title:     strings.TrimSpace(input.Title),
		Date:      strings.TrimSpace(input.Date),
		Type:      input.Type,
		Excerpt:   input.Excerpt,
		Content:   input.Content,
		AudioURL:  input.AudioURL,
		ImageURLs: nonNilStrings(input.ImageURLs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return store.Note{}, err
	}
	s.claimUploads(ctx, note.AudioURL, note.ImageURLs...)
	s.noteChanged(note, "Create note")
	return note, nil
}

func (s *Service) UpdateNote(ctx context.Context, noteID string, input UpdateNoteInput) (store.Note, error) {
	if err := validateInput(input); err != nil {
		return store.Note{}, err
	}
	patch := store.NotePatch{
		Title:     trimmed(input.Title),
		Date:      trimmed(input.Date),
		Type:      input.Type,
		Excerpt:   input.Excerpt,
		Content:   input.Content,
		AudioURL:  input.AudioURL,
		ImageURLs: input.ImageURLs,
	}
	if patch.Empty() {
		return s.GetNote(ctx, noteID)
	}

	note, err := s.store.UpdateNote(ctx, noteID, patch)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, errNoteNotFound()
	}
	if err != nil {
		return store.Note{}, err
	}
	note.ImageURLs = nonNilStrings(note.ImageURLs)
	s.claimUploads(ctx, note.AudioURL, note.ImageURLs...)
	s.noteChanged(note, "Update note")
	return note, nil
}

// DeleteNote removes the note, its search entry and its revision history.
// Its files are removed only once no other note or recording references them.
func (s *Service) DeleteNote(ctx context.Context, noteID string) error {
	note, err := s.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errNoteNotFound()
		}
		return err
	}

	for _, url := range append([]string{note.AudioURL}, note.ImageURLs...) {
		s.releaseUpload(ctx, url)
	}

	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	if s.history != nil {
		if err := s.history.Remove(noteID); err != nil {
			s.logger.Warn("history: remove note repository", zap.String("note_id", noteID), zap.Error(err))
		}
	}
	return nil
}

// MergeNotes builds a hybrid note from an audio note and a scanned note.
// Both sources are left untouched.
func (s *Service) MergeNotes(ctx context.Context, input MergeNotesInput) (store.Note, error) {
	if err := validateInput(input); err != nil {
		return store.Note{}, err
	}
	audioNote, err := s.GetNote(ctx, input.AudioNoteID)
	if err != nil {
		return store.Note{}, err
	}
	scanNote, err := s.GetNote(ctx, input.ScanNoteID)
	if err != nil {
		return store.Note{}, err
	}

	details := map[string]string{}
	if audioNote.Type != store.NoteTypeAudio {
		details["audioNoteId"] = "audioNoteId must reference an audio note"
	}
	if scanNote.Type != store.NoteTypeScan {
		details["scanNoteId"] = "scanNoteId must reference a scan note"
	}
	if len(details) > 0 {
		return store.Note{}, validationError("Notes cannot be merged", details)
	}

	now := s.now().UTC()
	note := store.Note{
		ID:        util.NewID(util.NotePrefix),
		Title:     strings.TrimSpace(input.Title),
		Date:      strings.TrimSpace(input.Date),
		Type:      store.NoteTypeHybrid,
		Excerpt:   fmt.Sprintf("%s + %s", audioNote.Title, scanNote.Title),
		Content:   mergedContent(audioNote, scanNote),
		AudioURL:  audioNote.AudioURL,
		ImageURLs: nonNilStrings(append([]string(nil), scanNote.ImageURLs...)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return store.Note{}, err
	}
	s.noteChanged(note, fmt.Sprintf("Merge %s and %s", audioNote.ID, scanNote.ID))
	return note, nil
}

func mergedContent(audioNote, scanNote store.Note) string {
	transcript := firstNonBlank(audioNote.Content, audioNote.Excerpt)
	scanned := firstNonBlank(scanNote.Content, scanNote.Excerpt)
	return "## Audio Transcript\n\n" + strings.TrimSpace(transcript) +
		"\n\n## Scanned Notes\n\n" + strings.TrimSpace(scanned)
}

// RecognizeNote runs OCR over the note's images and stores the text as content.
func (s *Service) RecognizeNote(ctx context.Context, noteID string) (store.Note, error) {
	note, err := s.GetNote(ctx, noteID)
	if err != nil {
		return store.Note{}, err
	}
	if len(note.ImageURLs) == 0 {
		return store.Note{}, domainError(http.StatusUnprocessableEntity, "NO_IMAGES", "Note has no images to process", nil)
	}

	text, err := s.recognizer.Recognize(ctx, note.ImageURLs)
	if err != nil {
		if errors.Is(err, processing.ErrNoImages) {
			return store.Note{}, domainError(http.StatusUnprocessableEntity, "NO_IMAGES", "Note has no images to process", nil)
		}
		return store.Note{}, fmt.Errorf("recognize note images: %w", err)
	}

	excerpt := makeExcerpt(text)
	updated, err := s.store.UpdateNote(ctx, noteID, store.NotePatch{Content: &text, Excerpt: &excerpt})
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, errNoteNotFound()
	}
	if err != nil {
		return store.Note{}, err
	}
	s.noteChanged(updated, "Recognise scanned text")
	return updated, nil
}

func (s *Service) NoteHistory(ctx context.Context, noteID string, limit int) ([]history.Revision, error) {
	if _, err := s.GetNote(ctx, noteID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Revision{}, nil
	}
	revisions, err := s.history.History(noteID, limit)
	if errors.Is(err, history.ErrNotFound) {
		return []history.Revision{}, nil
	}
	return revisions, err
}

type NoteRevision struct {
	Revision history.Revision `json:"revision"`
	Note     history.Snapshot `json:"note"`
	Changes  []history.Change `json:"changes"`
}

func (s *Service) NoteRevision(ctx context.Context, noteID, hash string) (NoteRevision, error) {
	if _, err := s.GetNote(ctx, noteID); err != nil {
		return NoteRevision{}, err
	}
	if s.history == nil {
		return NoteRevision{}, domainError(http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", nil)
	}
	snap, revision, changes, err := s.history.At(noteID, hash)
	if errors.Is(err, history.ErrNotFound) || errors.Is(err, history.ErrRevisionNotFound) {
		return NoteRevision{}, domainError(http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", nil)
	}
	if err != nil {
		return NoteRevision{}, err
	}
	return NoteRevision{Revision: revision, Note: snap, Changes: changes}, nil
}

func (s *Service) ExportNote(ctx context.Context, noteID, format string) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		names := make([]string, 0, len(export.Formats))
		for _, f := range export.Formats {
			names = append(names, string(f))
		}
		return nil, validationError("Unsupported export format", map[string]string{
			"format": "format must be one of " + strings.Join(names, ", "),
		})
	}
	note, err := s.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	result, err := s.exporter.Export(ctx, note, parsed)
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export format is not available on this server", map[string]string{
			"format": string(parsed),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("export note: %w", err)
	}
	return result, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	q.Type = strings.ToLower(strings.TrimSpace(q.Type))
	if q.Type == "all" {
		q.Type = ""
	}
	if q.Type != "" && !validNoteType(q.Type) {
		return search.Response{}, validationError("Invalid note type", map[string]string{
			"type": "type must be one of " + strings.Join(store.NoteTypes, ", "),
		})
	}
	if q.Limit > searchPageSize {
		q.Limit = searchPageSize
	}
	if q.Text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Total: 0, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// noteChanged indexes the note and records a revision of it.
func (s *Service) noteChanged(note store.Note, message string) {
	if s.search != nil {
		s.search.IndexNote(search.RecordFromNote(note))
	}
	if s.history == nil {
		return
	}
	if _, err := s.history.Commit(note.ID, history.SnapshotOf(note), message); err != nil {
		s.logger.Warn("history: commit note revision", zap.String("note_id", note.ID), zap.Error(err))
	}
}

func makeExcerpt(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > excerptLength {
		runes := []rune(text)
		text = string(runes[:excerptLength])
	}
	return text + "..."
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	out := strings.TrimSpace(*value)
	return &out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
