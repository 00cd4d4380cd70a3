package app

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studynotes/api/internal/store"
)

const defaultHistoryLimit = 20

type noteView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	Type      string    `json:"type"`
	Excerpt   string    `json:"excerpt"`
	Content   string    `json:"content"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	ImageURLs []string  `json:"imageUrls"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func viewNote(note store.Note) noteView {
	return noteView{
		ID:        note.ID,
		Title:     note.Title,
		Date:      note.Date,
		Type:      note.Type,
		Excerpt:   note.Excerpt,
		Content:   note.Content,
		AudioURL:  note.AudioURL,
		ImageURLs: nonNilStrings(note.ImageURLs),
		CreatedAt: note.CreatedAt,
		UpdatedAt: note.UpdatedAt,
	}
}

func viewNotes(notes []store.Note) []noteView {
	views := make([]noteView, 0, len(notes))
	for _, note := range notes {
		views = append(views, viewNote(note))
	}
	return views
}

// handleNotes serves everything under /api/notes.
func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			notes, err := s.service.ListNotes(r.Context(), query.Get("type"), query.Get("q"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, viewNotes(notes))
		case http.MethodPost:
			var body CreateNoteInput
			if err := decodeBody(w, r, &body); err != nil {
				s.fail(w, r, err)
				return
			}
			note, err := s.service.CreateNote(r.Context(), body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, viewNote(note))
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 3 && parts[2] == "upload-images" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleUploadImages(w, r)
		return
	}

	if len(parts) == 3 && parts[2] == "merge" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body MergeNotesInput
		if err := decodeBody(w, r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		note, err := s.service.MergeNotes(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewNote(note))
		return
	}

	noteID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			note, err := s.service.GetNote(r.Context(), noteID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, viewNote(note))
		case http.MethodPut:
			var body UpdateNoteInput
			if err := decodeBody(w, r, &body); err != nil {
				s.fail(w, r, err)
				return
			}
			note, err := s.service.UpdateNote(r.Context(), noteID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, viewNote(note))
		case http.MethodDelete:
			if err := s.service.DeleteNote(r.Context(), noteID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"message": "Note deleted successfully"})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "ocr" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		note, err := s.service.RecognizeNote(r.Context(), noteID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewNote(note))
		return
	}

	if len(parts) == 4 && parts[3] == "history" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		limit := defaultHistoryLimit
		if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
			if parsedLimit, err := strconv.Atoi(rawLimit); err == nil && parsedLimit > 0 {
				limit = parsedLimit
			}
		}
		revisions, err := s.service.NoteHistory(r.Context(), noteID, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
		return
	}

	if len(parts) == 5 && parts[3] == "history" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		revision, err := s.service.NoteRevision(r.Context(), noteID, parts[4])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, revision)
		return
	}

	if len(parts) == 4 && parts[3] == "export" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(w, r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		result, err := s.service.ExportNote(r.Context(), noteID, body.Format)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		attachment(w, result.Filename, result.MimeType, result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleUploadImages(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseMultipart(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer form.RemoveAll()

	headers := form.File["images"]
	uploads := make([]Upload, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer file.Close()
		uploads = append(uploads, uploadFrom(header, file))
	}

	urls, err := s.service.UploadImages(r.Context(), uploads)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"imageUrls": urls})
}

// parseMultipart reads a multipart body capped at the upload limit. A request
// that is not multipart yields an empty form.
func (s *HTTPServer) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	limit := s.service.UploadLimit()
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	err := r.ParseMultipartForm(32 << 20)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return r.MultipartForm, nil
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		return &multipart.Form{File: map[string][]*multipart.FileHeader{}}, nil
	case errors.As(err, &tooLarge):
		return nil, errFileTooLarge(limit)
	default:
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
	}
}

func uploadFrom(header *multipart.FileHeader, file multipart.File) Upload {
	return Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
}
