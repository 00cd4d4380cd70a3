package media

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{name: "0b5d.mp3", want: true},
		{name: "a_b-c.png", want: true},
		{name: "", want: false},
		{name: "../etc/passwd", want: false},
		{name: "dir/file.png", want: false},
		{name: ".hidden", want: false},
		{name: "a..b", want: false},
	}
	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewObjectNameKeepsLowercaseExtension(t *testing.T) {
	name := NewObjectName("Lecture Notes.PNG")
	if !strings.HasSuffix(name, ".png") {
		t.Fatalf("expected .png suffix, got %q", name)
	}
	if !ValidName(name) {
		t.Fatalf("generated name %q is not valid", name)
	}
	if other := NewObjectName("Lecture Notes.PNG"); other == name {
		t.Fatal("expected unique names")
	}
	if bare := NewObjectName("noext"); strings.Contains(bare, ".") {
		t.Fatalf("expected no extension, got %q", bare)
	}
}

func TestNameFromURL(t *testing.T) {
	if name, ok := NameFromURL("/uploads/abc.mp3"); !ok || name != "abc.mp3" {
		t.Fatalf("NameFromURL() = %q, %v", name, ok)
	}
	for _, url := range []string{"https://example.com/a.mp3", "/uploads/../secret", "/uploads/"} {
		if _, ok := NameFromURL(url); ok {
			t.Errorf("expected %q to be rejected", url)
		}
	}
}

func TestDecodeDataURL(t *testing.T) {
	payload := []byte("ID3 fake audio")
	encoded := base64.StdEncoding.EncodeToString(payload)

	tests := []struct {
		name        string
		input       string
		contentType string
	}{
		{name: "data url", input: "data:audio/mpeg;base64," + encoded, contentType: "audio/mpeg"},
		{name: "data url with codec", input: "data:audio/webm;codecs=opus;base64," + encoded, contentType: "audio/webm"},
		{name: "bare base64", input: encoded, contentType: ""},
		{name: "unpadded", input: strings.TrimRight(encoded, "="), contentType: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, contentType, err := DecodeDataURL(tt.input)
			if err != nil {
				t.Fatalf("DecodeDataURL() error = %v", err)
			}
			if string(data) != string(payload) {
				t.Fatalf("unexpected payload %q", data)
			}
			if contentType != tt.contentType {
				t.Fatalf("content type = %q, want %q", contentType, tt.contentType)
			}
		})
	}

	if _, _, err := DecodeDataURL("data:audio/mpeg;base64,"); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData for empty payload, got %v", err)
	}
	if _, _, err := DecodeDataURL("not base64 at all!"); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}

func TestLocalPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	obj, err := store.Put(ctx, "note.png", "image/png", strings.NewReader("png-bytes"), 9)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if obj.Size != 9 || obj.Checksum != Checksum([]byte("png-bytes")) {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if obj.URL() != "/uploads/note.png" {
		t.Fatalf("unexpected url %q", obj.URL())
	}

	reader, info, err := store.Open(ctx, "note.png")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(reader)
	_ = reader.Close()
	if string(body) != "png-bytes" || info.ContentType != "image/png" {
		t.Fatalf("unexpected content %q (%s)", body, info.ContentType)
	}
	if info.Checksum != obj.Checksum {
		t.Fatalf("Open checksum %s does not match Put checksum %s", info.Checksum, obj.Checksum)
	}

	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		if entry.Name() != "note.png" && entry.Name() != metaDir {
			t.Fatalf("unexpected entry %s left in uploads dir", entry.Name())
		}
	}

	if err := store.Delete(ctx, "note.png"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "note.png"); err != nil {
		t.Fatalf("second Delete() should be a no-op, got %v", err)
	}
	if _, _, err := store.Open(ctx, "note.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(store.metaPath("note.png")); !os.IsNotExist(err) {
		t.Fatalf("metadata should be removed with the object, got %v", err)
	}
	if _, err := store.Put(ctx, "../escape", "", strings.NewReader("x"), 1); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestLocalOpenKeepsStoredContentType(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	if _, err := store.Put(ctx, "clip.mp3", "audio/webm", strings.NewReader("webm"), 4); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Rewriting the bytes behind the store shows Open reads the sidecar
	// instead of hashing the file again.
	if err := os.WriteFile(filepath.Join(store.Dir(), "clip.mp3"), []byte("changed"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	reader, info, err := store.Open(ctx, "clip.mp3")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = reader.Close()
	if info.ContentType != "audio/webm" {
		t.Fatalf("expected stored content type audio/webm, got %s", info.ContentType)
	}
	if info.Checksum != Checksum([]byte("webm")) {
		t.Fatalf("expected checksum recorded at Put, got %s", info.Checksum)
	}
}

func TestLocalOpenWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Dir(), "legacy.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	reader, info, err := store.Open(ctx, "legacy.png")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(reader)
	_ = reader.Close()
	if string(body) != "png" {
		t.Fatalf("body should be readable after hashing, got %q", body)
	}
	if info.ContentType != "image/png" || info.Checksum != Checksum([]byte("png")) {
		t.Fatalf("unexpected fallback metadata: %+v", info)
	}
}
