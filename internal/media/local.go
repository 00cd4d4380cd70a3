package media

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// metaDir holds one JSON sidecar per object. Its name is not a ValidName, so
// it is never served.
const metaDir = ".meta"

// Local stores objects as flat files in a directory.
type Local struct {
	dir string
}

type localMeta struct {
	ContentType string `json:"contentType"`
	Checksum    string `json:"checksum"`
}

// NewLocal creates the directory when missing.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(dir, metaDir), 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) metaPath(name string) string {
	return filepath.Join(l.dir, metaDir, name+".json")
}

func (l *Local) Dir() string {
	return l.dir
}

func (l *Local) Put(_ context.Context, name, contentType string, body io.Reader, _ int64) (Object, error) {
	if !ValidName(name) {
		return Object{}, ErrInvalidName
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	hasher := NewHasher()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), body)
	if err != nil {
		_ = tmp.Close()
		return Object{}, fmt.Errorf("write upload %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("close upload %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(l.dir, name)); err != nil {
		return Object{}, fmt.Errorf("move upload %s: %w", name, err)
	}

	info, err := os.Stat(filepath.Join(l.dir, name))
	if err != nil {
		return Object{}, fmt.Errorf("stat upload %s: %w", name, err)
	}
	if contentType == "" {
		contentType = ContentTypeFor(name)
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))
	meta, err := json.Marshal(localMeta{ContentType: contentType, Checksum: checksum})
	if err != nil {
		return Object{}, fmt.Errorf("encode upload metadata %s: %w", name, err)
	}
	if err := os.WriteFile(l.metaPath(name), meta, 0o644); err != nil {
		return Object{}, fmt.Errorf("write upload metadata %s: %w", name, err)
	}
	return Object{
		Name:        name,
		ContentType: contentType,
		Size:        written,
		Checksum:    checksum,
		ModTime:     info.ModTime(),
	}, nil
}

func (l *Local) Open(_ context.Context, name string) (io.ReadSeekCloser, Object, error) {
	if !ValidName(name) {
		return nil, Object{}, ErrInvalidName
	}
	file, err := os.Open(filepath.Join(l.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Object{}, ErrNotFound
	}
	if err != nil {
		return nil, Object{}, fmt.Errorf("open upload %s: %w", name, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, Object{}, fmt.Errorf("stat upload %s: %w", name, err)
	}
	obj := Object{Name: name, Size: info.Size(), ModTime: info.ModTime()}
	if meta, ok := l.readMeta(name); ok {
		obj.ContentType = meta.ContentType
		obj.Checksum = meta.Checksum
		return file, obj, nil
	}

	// Files written without a sidecar are hashed on open.
	hasher := NewHasher()
	if _, err := io.Copy(hasher, file); err != nil {
		_ = file.Close()
		return nil, Object{}, fmt.Errorf("hash upload %s: %w", name, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, Object{}, fmt.Errorf("rewind upload %s: %w", name, err)
	}
	obj.ContentType = ContentTypeFor(name)
	obj.Checksum = hex.EncodeToString(hasher.Sum(nil))
	return file, obj, nil
}

func (l *Local) readMeta(name string) (localMeta, bool) {
	data, err := os.ReadFile(l.metaPath(name))
	if err != nil {
		return localMeta{}, false
	}
	var meta localMeta
	if err := json.Unmarshal(data, &meta); err != nil || meta.Checksum == "" {
		return localMeta{}, false
	}
	if meta.ContentType == "" {
		meta.ContentType = ContentTypeFor(name)
	}
	return meta, true
}

// Delete removes the object. Deleting a missing object is not an error.
func (l *Local) Delete(_ context.Context, name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	err := os.Remove(filepath.Join(l.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete upload %s: %w", name, err)
	}
	if err := os.Remove(l.metaPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete upload metadata %s: %w", name, err)
	}
	return nil
}

func (l *Local) Ping(context.Context) error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return fmt.Errorf("stat uploads dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("uploads path %s is not a directory", l.dir)
	}
	return nil
}
