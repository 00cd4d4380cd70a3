package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"studynotes/api/internal/media"
	"studynotes/api/internal/store"
	"studynotes/api/internal/util"
)

// Upload is one file received from a multipart form.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type SaveAudioInput struct {
	Title      string  `json:"title" validate:"notblank"`
	Date       string  `json:"date" validate:"notblank"`
	AudioData  string  `json:"audioData" validate:"required"`
	Duration   float64 `json:"duration" validate:"required,gt=0"`
	Transcript string  `json:"transcript"`
}

const defaultUploadLimit = 100 << 20

// UploadLimit is the largest file body the service accepts.
func (s *Service) UploadLimit() int64 {
	if s.cfg.MaxAudioBytes > 0 {
		return s.cfg.MaxAudioBytes
	}
	return defaultUploadLimit
}

// UploadImages stores scanned pages and stages them until a note claims them.
func (s *Service) UploadImages(ctx context.Context, uploads []Upload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, domainError(http.StatusBadRequest, "NO_FILES", "No files uploaded", nil)
	}
	if limit := s.cfg.MaxImageFiles; limit > 0 && len(uploads) > limit {
		return nil, domainError(http.StatusBadRequest, "TOO_MANY_FILES", fmt.Sprintf("At most %d images can be uploaded at once", limit), nil)
	}
	for _, upload := range uploads {
		if !hasMediaType(mediaTypeOf(upload), "image/") {
			return nil, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", "Only image files are allowed", map[string]string{
				"file": upload.Filename,
			})
		}
	}

	urls := make([]string, 0, len(uploads))
	written := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		obj, err := s.media.Put(ctx, media.NewObjectName(upload.Filename), mediaTypeOf(upload), upload.Body, upload.Size)
		if err != nil {
			for _, name := range written {
				_ = s.media.Delete(ctx, name)
			}
			return nil, fmt.Errorf("store image %s: %w", upload.Filename, err)
		}
		written = append(written, obj.Name)
		urls = append(urls, obj.URL())
	}
	for _, name := range written {
		s.stageUpload(ctx, name)
	}
	return urls, nil
}

// UploadAudio stores one audio file and stages it until a note claims it.
func (s *Service) UploadAudio(ctx context.Context, upload *Upload) (string, error) {
	if upload == nil {
		return "", domainError(http.StatusBadRequest, "NO_FILE", "No audio file uploaded", nil)
	}
	contentType := mediaTypeOf(*upload)
	if !hasMediaType(contentType, "audio/") {
		return "", domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", "Only audio files are allowed", nil)
	}
	if limit := s.cfg.MaxAudioBytes; limit > 0 && upload.Size > limit {
		return "", errFileTooLarge(limit)
	}

	obj, err := s.media.Put(ctx, media.NewObjectName(upload.Filename), contentType, upload.Body, upload.Size)
	if err != nil {
		return "", fmt.Errorf("store audio %s: %w", upload.Filename, err)
	}
	s.stageUpload(ctx, obj.Name)
	return obj.URL(), nil
}

// OpenUpload returns a stored file for serving. Unknown or malformed names are 404.
func (s *Service) OpenUpload(ctx context.Context, name string) (io.ReadSeekCloser, media.Object, error) {
	notFound := domainError(http.StatusNotFound, "FILE_NOT_FOUND", "File not found", nil)
	if !media.ValidName(name) {
		return nil, media.Object{}, notFound
	}
	body, obj, err := s.media.Open(ctx, name)
	if errors.Is(err, media.ErrNotFound) || errors.Is(err, media.ErrInvalidName) {
		return nil, media.Object{}, notFound
	}
	if err != nil {
		return nil, media.Object{}, err
	}
	return body, obj, nil
}

func (s *Service) ListRecordings(ctx context.Context) ([]store.AudioRecording, error) {
	return s.store.ListRecordings(ctx)
}

func (s *Service) GetRecording(ctx context.Context, recordingID string) (store.AudioRecording, error) {
	recording, err := s.store.GetRecording(ctx, recordingID)
	if errors.Is(err, store.ErrNotFound) {
		return store.AudioRecording{}, errRecordingNotFound()
	}
	return recording, err
}

// SaveBase64Audio decodes a recorded clip and saves it as a recording.
func (s *Service) SaveBase64Audio(ctx context.Context, input SaveAudioInput) (store.AudioRecording, error) {
	if err := validateInput(input); err != nil {
		return store.AudioRecording{}, err
	}
	obj, err := s.writeBase64Audio(ctx, input.AudioData)
	if err != nil {
		return store.AudioRecording{}, err
	}

	recording := s.newRecording(input, obj, input.Transcript, "")
	if err := s.store.InsertRecording(ctx, recording); err != nil {
		_ = s.media.Delete(ctx, obj.Name)
		return store.AudioRecording{}, err
	}
	return recording, nil
}

// SaveWithNote saves a recorded clip together with an audio note that
// references it.
func (s *Service) SaveWithNote(ctx context.Context, input SaveAudioInput) (store.Note, store.AudioRecording, error) {
	if err := validateInput(input); err != nil {
		return store.Note{}, store.AudioRecording{}, err
	}
	obj, err := s.writeBase64Audio(ctx, input.AudioData)
	if err != nil {
		return store.Note{}, store.AudioRecording{}, err
	}

	now := s.now().UTC()
	note := store.Note{
		ID:        util.NewID(util.NotePrefix),
		Title:     strings.TrimSpace(input.Title),
		Date:      strings.TrimSpace(input.Date),
		Type:      store.NoteTypeAudio,
		Excerpt:   transcriptExcerpt(input.Transcript),
		Content:   transcriptContent(input.Transcript),
		AudioURL:  obj.URL(),
		ImageURLs: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		_ = s.media.Delete(ctx, obj.Name)
		return store.Note{}, store.AudioRecording{}, err
	}

	recording := s.newRecording(input, obj, input.Transcript, note.ID)
	if err := s.store.InsertRecording(ctx, recording); err != nil {
		_ = s.store.DeleteNote(ctx, note.ID)
		_ = s.media.Delete(ctx, obj.Name)
		return store.Note{}, store.AudioRecording{}, err
	}
	s.noteChanged(note, "Create note from recording")
	return note, recording, nil
}

// GenerateTranscript transcribes a recording, stores the text and refreshes
// the linked note when there is one.
func (s *Service) GenerateTranscript(ctx context.Context, recordingID string) (string, error) {
	recording, err := s.GetRecording(ctx, recordingID)
	if err != nil {
		return "", err
	}
	transcript, err := s.transcriber.Transcribe(ctx, recording)
	if err != nil {
		return "", fmt.Errorf("transcribe recording: %w", err)
	}
	if err := s.store.UpdateRecordingTranscript(ctx, recordingID, transcript); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", errRecordingNotFound()
		}
		return "", err
	}

	if recording.NoteID != "" {
		content := transcriptContent(transcript)
		excerpt := transcriptExcerpt(transcript)
		note, err := s.store.UpdateNote(ctx, recording.NoteID, store.NotePatch{Content: &content, Excerpt: &excerpt})
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.logger.Info("transcript: linked note no longer exists", zap.String("recording_id", recordingID), zap.String("note_id", recording.NoteID))
		case err != nil:
			return "", err
		default:
			s.noteChanged(note, "Refresh transcript")
		}
	}
	return transcript, nil
}

func (s *Service) writeBase64Audio(ctx context.Context, data string) (media.Object, error) {
	decoded, contentType, err := media.DecodeDataURL(data)
	if err != nil {
		return media.Object{}, validationError("Invalid audio data", map[string]string{
			"audioData": "audioData must be base64 encoded audio",
		})
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	if !hasMediaType(contentType, "audio/") {
		return media.Object{}, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", "Only audio data is allowed", nil)
	}
	if limit := s.cfg.MaxAudioBytes; limit > 0 && int64(len(decoded)) > limit {
		return media.Object{}, errFileTooLarge(limit)
	}

	obj, err := s.media.Put(ctx, media.NewObjectName("recording.mp3"), contentType, bytes.NewReader(decoded), int64(len(decoded)))
	if err != nil {
		return media.Object{}, fmt.Errorf("store recording: %w", err)
	}
	return obj, nil
}

func (s *Service) newRecording(input SaveAudioInput, obj media.Object, transcript, noteID string) store.AudioRecording {
	return store.AudioRecording{
		ID:         util.NewID(util.RecordingPrefix),
		Title:      strings.TrimSpace(input.Title),
		Date:       strings.TrimSpace(input.Date),
		Filename:   obj.Name,
		Duration:   input.Duration,
		Transcript: transcript,
		NoteID:     noteID,
		Checksum:   obj.Checksum,
		CreatedAt:  s.now().UTC(),
	}
}

func (s *Service) stageUpload(ctx context.Context, name string) {
	expiresAt := s.now().Add(s.cfg.StagingTTL)
	if err := s.staging.Stage(ctx, name, expiresAt); err != nil {
		s.logger.Warn("staging: record upload", zap.String("object", name), zap.Error(err))
	}
}

// claimUploads marks every referenced upload as owned by a note so the
// sweeper leaves it alone.
func (s *Service) claimUploads(ctx context.Context, audioURL string, imageURLs ...string) {
	names := make([]string, 0, len(imageURLs)+1)
	for _, url := range append([]string{audioURL}, imageURLs...) {
		if name, ok := media.NameFromURL(url); ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return
	}
	if err := s.staging.Claim(ctx, names...); err != nil {
		s.logger.Warn("staging: claim uploads", zap.Strings("objects", names), zap.Error(err))
	}
}

// releaseUpload deletes the file behind url unless something still uses it.
// A failed reference check keeps the file.
func (s *Service) releaseUpload(ctx context.Context, url string) {
	name, ok := media.NameFromURL(url)
	if !ok {
		return
	}
	inUse, err := s.store.UploadInUse(ctx, name)
	if err != nil {
		s.logger.Warn("media: check file references", zap.String("object", name), zap.Error(err))
		return
	}
	if inUse {
		return
	}
	if err := s.media.Delete(ctx, name); err != nil {
		s.logger.Warn("media: delete file", zap.String("object", name), zap.Error(err))
	}
}

func errFileTooLarge(limit int64) *DomainError {
	return domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File is too large", map[string]int64{
		"maxBytes": limit,
	})
}

func mediaTypeOf(upload Upload) string {
	contentType := strings.TrimSpace(upload.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = media.ContentTypeFor(upload.Filename)
	}
	return contentType
}

func hasMediaType(contentType, prefix string) bool {
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(parsed, prefix)
}

func transcriptExcerpt(transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		return audioExcerpt
	}
	return makeExcerpt(transcript)
}

func transcriptContent(transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		return noTranscript
	}
	return transcript
}
