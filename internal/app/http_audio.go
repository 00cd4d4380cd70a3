package app

import (
	"net/http"
	"time"

	"studynotes/api/internal/media"
	"studynotes/api/internal/store"
)

type recordingView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Date       string    `json:"date"`
	Filename   string    `json:"filename"`
	Duration   float64   `json:"duration"`
	Transcript string    `json:"transcript"`
	NoteID     string    `json:"noteId,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	AudioURL   string    `json:"audioUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

func viewRecording(recording store.AudioRecording) recordingView {
	return recordingView{
		ID:         recording.ID,
		Title:      recording.Title,
		Date:       recording.Date,
		Filename:   recording.Filename,
		Duration:   recording.Duration,
		Transcript: recording.Transcript,
		NoteID:     recording.NoteID,
		Checksum:   recording.Checksum,
		AudioURL:   media.URLFor(recording.Filename),
		CreatedAt:  recording.CreatedAt,
	}
}

// handleAudio serves everything under /api/audio.
func (s *HTTPServer) handleAudio(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		recordings, err := s.service.ListRecordings(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		views := make([]recordingView, 0, len(recordings))
		for _, recording := range recordings {
			views = append(views, viewRecording(recording))
		}
		writeJSON(w, http.StatusOK, views)
		return
	}

	if len(parts) == 3 && parts[2] == "upload" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleUploadAudio(w, r)
		return
	}

	if len(parts) == 3 && parts[2] == "save-base64" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body SaveAudioInput
		if err := decodeBody(w, r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		recording, err := s.service.SaveBase64Audio(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":       recording.ID,
			"title":    recording.Title,
			"date":     recording.Date,
			"audioUrl": media.URLFor(recording.Filename),
			"duration": recording.Duration,
		})
		return
	}

	if len(parts) == 3 && parts[2] == "save-with-note" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body SaveAudioInput
		if err := decodeBody(w, r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		note, recording, err := s.service.SaveWithNote(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"note": viewNote(note),
			"recording": map[string]any{
				"id":         recording.ID,
				"title":      recording.Title,
				"date":       recording.Date,
				"audioUrl":   media.URLFor(recording.Filename),
				"duration":   recording.Duration,
				"transcript": recording.Transcript,
			},
		})
		return
	}

	if len(parts) == 4 && parts[2] == "generate-transcript" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		transcript, err := s.service.GenerateTranscript(r.Context(), parts[3])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transcript": transcript})
		return
	}

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		recording, err := s.service.GetRecording(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewRecording(recording))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer form.RemoveAll()

	var upload *Upload
	if headers := form.File["audio"]; len(headers) > 0 {
		file, err := headers[0].Open()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer file.Close()
		u := uploadFrom(headers[0], file)
		upload = &u
	}

	url, err := s.service.UploadAudio(r.Context(), upload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"audioUrl": url})
}
