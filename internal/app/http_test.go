package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"studynotes/api/internal/export"
	"studynotes/api/internal/store"
)

type filePart struct {
	field       string
	filename    string
	contentType string
	body        string
}

func multipartBody(t *testing.T, parts ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for _, part := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, part.field, part.filename))
		header.Set("Content-Type", part.contentType)
		w, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart() error = %v", err)
		}
		_, _ = w.Write([]byte(part.body))
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("multipart close error = %v", err)
	}
	return buf, writer.FormDataContentType()
}

func newTestServer(t *testing.T) (*testEnv, http.Handler) {
	t.Helper()
	env := newTestEnv(t)
	return env, NewHTTPServer(env.service, "*", nil).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestServer(t)
	rr := doJSON(t, handler, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	if response["ok"] != true {
		t.Fatalf("expected ok=true, got %v", response)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header")
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	env, handler := newTestServer(t)
	env.store.pingFn = func(context.Context) error { return fmt.Errorf("connection refused") }

	rr := doJSON(t, handler, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	if response["status"] != "not_ready" {
		t.Fatalf("unexpected status %v", response["status"])
	}
}

func TestOptionsPreflight(t *testing.T) {
	_, handler := newTestServer(t)
	rr := doJSON(t, handler, http.MethodOptions, "/api/notes", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "PUT") {
		t.Fatal("expected allowed methods header")
	}
}

func TestNotesLifecycleOverHTTP(t *testing.T) {
	_, handler := newTestServer(t)

	rr := doJSON(t, handler, http.MethodPost, "/api/notes", map[string]any{
		"title": "Linear Algebra", "date": "May 7, 2025", "type": "scan", "excerpt": "Eigenvalues",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created map[string]any
	decodeResponse(t, rr, &created)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("missing id in %v", created)
	}
	if images, ok := created["imageUrls"].([]any); !ok || len(images) != 0 {
		t.Fatalf("imageUrls should be an empty array, got %v", created["imageUrls"])
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/notes?type=scan", nil)
	var scans []map[string]any
	decodeResponse(t, rr, &scans)
	if len(scans) != 2 || scans[0]["id"] != id {
		t.Fatalf("expected new note first among scans, got %v", scans)
	}

	rr = doJSON(t, handler, http.MethodPut, "/api/notes/"+id, map[string]any{"content": "Av = lambda v"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var updated map[string]any
	decodeResponse(t, rr, &updated)
	if updated["content"] != "Av = lambda v" || updated["title"] != "Linear Algebra" {
		t.Fatalf("unexpected update result %v", updated)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/notes/"+id+"/history", nil)
	var historyResp struct {
		Revisions []map[string]any `json:"revisions"`
	}
	decodeResponse(t, rr, &historyResp)
	if len(historyResp.Revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %v", historyResp.Revisions)
	}

	hash := historyResp.Revisions[1]["hash"].(string)
	rr = doJSON(t, handler, http.MethodGet, "/api/notes/"+id+"/history/"+hash, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("revision: expected 200, got %d", rr.Code)
	}
	var revision map[string]any
	decodeResponse(t, rr, &revision)
	if revision["note"].(map[string]any)["content"] != "" {
		t.Fatalf("first revision should have no content, got %v", revision["note"])
	}

	rr = doJSON(t, handler, http.MethodDelete, "/api/notes/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	var deleted map[string]any
	decodeResponse(t, rr, &deleted)
	if deleted["message"] != "Note deleted successfully" {
		t.Fatalf("unexpected delete response %v", deleted)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/notes/"+id, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
	var notFound map[string]any
	decodeResponse(t, rr, &notFound)
	if notFound["code"] != "NOTE_NOT_FOUND" || notFound["error"] != "Note not found" {
		t.Fatalf("unexpected error envelope %v", notFound)
	}
}

func TestCreateNoteValidationOverHTTP(t *testing.T) {
	_, handler := newTestServer(t)
	rr := doJSON(t, handler, http.MethodPost, "/api/notes", map[string]any{"title": "Only a title"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var response struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	decodeResponse(t, rr, &response)
	if response.Code != "VALIDATION_ERROR" || response.Details["date"] == "" || response.Details["type"] == "" {
		t.Fatalf("unexpected response %+v", response)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	_, handler := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/notes", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	if response["code"] != "INVALID_BODY" {
		t.Fatalf("unexpected code %v", response["code"])
	}
}

func TestServerErrorsAreMasked(t *testing.T) {
	env, handler := newTestServer(t)
	env.store.getNoteFn = func(context.Context, string) (store.Note, error) {
		return store.Note{}, fmt.Errorf("pq: relation does not exist")
	}
	rr := doJSON(t, handler, http.MethodGet, "/api/notes/note_demo_1", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "relation") {
		t.Fatalf("internal error leaked: %s", rr.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	_, handler := newTestServer(t)
	rr := doJSON(t, handler, http.MethodGet, "/api/unknown", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodPatch, "/api/notes/note_demo_1", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestUploadImagesAndServeThem(t *testing.T) {
	_, handler := newTestServer(t)

	body, contentType := multipartBody(t,
		filePart{field: "images", filename: "p1.png", contentType: "image/png", body: "first page"},
		filePart{field: "images", filename: "p2.jpg", contentType: "image/jpeg", body: "second page"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/notes/upload-images", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var response struct {
		ImageURLs []string `json:"imageUrls"`
	}
	decodeResponse(t, rr, &response)
	if len(response.ImageURLs) != 2 {
		t.Fatalf("expected 2 urls, got %v", response.ImageURLs)
	}

	req = httptest.NewRequest(http.MethodGet, response.ImageURLs[0], nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("serve: expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "first page" {
		t.Fatalf("unexpected file body %q", rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected checksum ETag")
	}

	req = httptest.NewRequest(http.MethodGet, response.ImageURLs[0], nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotModified {
		t.Fatalf("expected 304 for matching ETag, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/uploads/missing.png", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing file, got %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodGet, "/uploads/..%2Fsecret", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for traversal, got %d", rr.Code)
	}
}

func TestUploadImagesWithoutFiles(t *testing.T) {
	_, handler := newTestServer(t)
	rr := doJSON(t, handler, http.MethodPost, "/api/notes/upload-images", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestUploadAudioOverHTTP(t *testing.T) {
	_, handler := newTestServer(t)

	body, contentType := multipartBody(t, filePart{field: "audio", filename: "talk.mp3", contentType: "audio/mpeg", body: "mp3 bytes"})
	req := httptest.NewRequest(http.MethodPost, "/api/audio/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var response map[string]string
	decodeResponse(t, rr, &response)
	if !strings.HasPrefix(response["audioUrl"], "/uploads/") || !strings.HasSuffix(response["audioUrl"], ".mp3") {
		t.Fatalf("unexpected audio url %q", response["audioUrl"])
	}

	body, contentType = multipartBody(t, filePart{field: "audio", filename: "slides.pdf", contentType: "application/pdf", body: "pdf"})
	req = httptest.NewRequest(http.MethodPost, "/api/audio/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rr.Code)
	}
}

func TestUploadAudioTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAudioBytes = 8
	env := newTestEnvWithConfig(t, cfg)
	handler := NewHTTPServer(env.service, "*", nil).Handler()

	body, contentType := multipartBody(t, filePart{field: "audio", filename: "long.mp3", contentType: "audio/mpeg", body: strings.Repeat("a", 64)})
	req := httptest.NewRequest(http.MethodPost, "/api/audio/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	if response["code"] != "FILE_TOO_LARGE" {
		t.Fatalf("unexpected code %v", response["code"])
	}
}

func TestSaveWithNoteAndTranscriptOverHTTP(t *testing.T) {
	_, handler := newTestServer(t)

	rr := doJSON(t, handler, http.MethodPost, "/api/audio/save-with-note", map[string]any{
		"title": "Office Hours", "date": "May 8, 2025", "audioData": "data:audio/webm;base64,YXVkaW8=", "duration": 42.5,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var saved struct {
		Note      map[string]any `json:"note"`
		Recording map[string]any `json:"recording"`
	}
	decodeResponse(t, rr, &saved)
	if saved.Note["type"] != "audio" || saved.Note["excerpt"] != "Audio recording" {
		t.Fatalf("unexpected note %v", saved.Note)
	}
	if saved.Note["audioUrl"] != saved.Recording["audioUrl"] {
		t.Fatalf("note and recording should share the audio url: %v %v", saved.Note, saved.Recording)
	}

	recordingID := saved.Recording["id"].(string)
	rr = doJSON(t, handler, http.MethodPost, "/api/audio/generate-transcript/"+recordingID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("transcript: expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/audio/"+recordingID, nil)
	var recording map[string]any
	decodeResponse(t, rr, &recording)
	if recording["transcript"] == "" || recording["noteId"] != saved.Note["id"] {
		t.Fatalf("unexpected recording %v", recording)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/audio", nil)
	var recordings []map[string]any
	decodeResponse(t, rr, &recordings)
	if len(recordings) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(recordings))
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/audio/rec_missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSaveBase64OverHTTP(t *testing.T) {
	_, handler := newTestServer(t)
	rr := doJSON(t, handler, http.MethodPost, "/api/audio/save-base64", map[string]any{
		"title": "Clip", "date": "May 8, 2025", "audioData": "YXVkaW8=", "duration": 2,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	if response["duration"] != float64(2) || !strings.HasPrefix(response["audioUrl"].(string), "/uploads/") {
		t.Fatalf("unexpected response %v", response)
	}
}

func TestSavedClipIsServedWithDeclaredType(t *testing.T) {
	_, handler := newTestServer(t)
	rr := doJSON(t, handler, http.MethodPost, "/api/audio/save-base64", map[string]any{
		"title": "Clip", "date": "May 8, 2025", "audioData": "data:audio/webm;codecs=opus;base64,YXVkaW8=", "duration": 2,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	audioURL := response["audioUrl"].(string)
	if !strings.HasSuffix(audioURL, ".mp3") {
		t.Fatalf("expected .mp3 object name, got %s", audioURL)
	}

	req := httptest.NewRequest(http.MethodGet, audioURL, nil)
	served := httptest.NewRecorder()
	handler.ServeHTTP(served, req)
	if served.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", served.Code)
	}
	if got := served.Header().Get("Content-Type"); got != "audio/webm" {
		t.Fatalf("expected audio/webm, got %q", got)
	}
}

func TestMergeAndOCROverHTTP(t *testing.T) {
	env, handler := newTestServer(t)
	images := []string{env.putFile(t, "scan.png", "image/png", "png")}
	if _, err := env.service.UpdateNote(context.Background(), "note_demo_2", UpdateNoteInput{ImageURLs: &images}); err != nil {
		t.Fatalf("UpdateNote() error = %v", err)
	}

	rr := doJSON(t, handler, http.MethodPost, "/api/notes/note_demo_2/ocr", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ocr: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/notes/merge", map[string]any{
		"title": "Combined", "date": "May 9, 2025", "audioNoteId": "note_demo_1", "scanNoteId": "note_demo_2",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("merge: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var merged map[string]any
	decodeResponse(t, rr, &merged)
	if merged["type"] != "hybrid" || !strings.Contains(merged["content"].(string), "## Scanned Notes") {
		t.Fatalf("unexpected merged note %v", merged)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/notes/note_demo_1/ocr", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a note without images, got %d", rr.Code)
	}
}

func TestExportOverHTTP(t *testing.T) {
	env, handler := newTestServer(t)
	env.exporter.exportFn = func(_ context.Context, note store.Note, format export.Format) (*export.Result, error) {
		return &export.Result{Data: []byte("# " + note.Title), Filename: "quantum.md", MimeType: "text/markdown; charset=utf-8"}, nil
	}

	rr := doJSON(t, handler, http.MethodPost, "/api/notes/note_demo_1/export", map[string]any{"format": "md"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Disposition") != `attachment; filename="quantum.md"` {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}
	if rr.Header().Get("Content-Type") != "text/markdown; charset=utf-8" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if rr.Body.String() != "# Quantum Mechanics Lecture" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/notes/note_demo_1/export", map[string]any{"format": "rtf"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, handler := newTestServer(t)

	rr := doJSON(t, handler, http.MethodGet, "/api/search?q=computers", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var response struct {
		Results []map[string]any `json:"results"`
		Total   int              `json:"total"`
		Query   string           `json:"query"`
	}
	decodeResponse(t, rr, &response)
	if response.Total != 1 || response.Results[0]["id"] != "note_demo_3" || response.Query != "computers" {
		t.Fatalf("unexpected search response %+v", response)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/search?q=computers&type=audio", nil)
	decodeResponse(t, rr, &response)
	if response.Total != 0 {
		t.Fatalf("type filter should exclude the hybrid note, got %+v", response)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/search?q=x&limit=abc", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad limit, got %d", rr.Code)
	}
}
