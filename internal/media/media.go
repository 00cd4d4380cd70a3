// Package media stores uploaded audio and image files and serves them back
// under /uploads/.
package media

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// URLPrefix is the public path every stored object is served under.
const URLPrefix = "/uploads/"

var (
	ErrNotFound    = errors.New("media: object not found")
	ErrInvalidName = errors.New("media: invalid object name")
	ErrInvalidData = errors.New("media: invalid base64 data")
)

// Object describes a stored file.
type Object struct {
	Name        string
	ContentType string
	Size        int64
	Checksum    string
	ModTime     time.Time
}

// URL returns the public URL of the object.
func (o Object) URL() string {
	return URLFor(o.Name)
}

// Storage is implemented by the local disk and MinIO backends.
type Storage interface {
	Put(ctx context.Context, name, contentType string, body io.Reader, size int64) (Object, error)
	Open(ctx context.Context, name string) (io.ReadSeekCloser, Object, error)
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,199}$`)

// ValidName reports whether name is a flat object name safe to use as a file name.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && !strings.Contains(name, "..")
}

// NewObjectName returns "<uuid><ext>" where ext is taken from the uploaded
// file name, lower-cased.
func NewObjectName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if !ValidName("x" + ext) {
		ext = ""
	}
	return uuid.NewString() + ext
}

// URLFor maps an object name to its public URL.
func URLFor(name string) string {
	return URLPrefix + name
}

// NameFromURL extracts the object name from a /uploads/ URL.
func NameFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, URLPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(url, URLPrefix)
	if !ValidName(name) {
		return "", false
	}
	return name, true
}

// ContentTypeFor guesses a content type from the object extension.
func ContentTypeFor(name string) string {
	if contentType := mime.TypeByExtension(filepath.Ext(name)); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}

var dataURLPattern = regexp.MustCompile(`^data:([a-z]+/[\w.+-]+)(;[^,;]+)*;base64,`)

// DecodeDataURL decodes a base64 payload that may carry a
// "data:<type>;base64," prefix. The returned content type is empty when the
// payload had no prefix.
func DecodeDataURL(data string) ([]byte, string, error) {
	data = strings.TrimSpace(data)
	contentType := ""
	if match := dataURLPattern.FindStringSubmatch(data); match != nil {
		contentType = match[1]
		data = data[len(match[0]):]
	}
	if data == "" {
		return nil, "", ErrInvalidData
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	}
	return decoded, contentType, nil
}

// NewHasher returns the BLAKE2b-256 hash used for object checksums.
func NewHasher() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}

// Checksum returns the hex BLAKE2b-256 digest of data.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
