package util

import (
	"strings"

	"github.com/google/uuid"
)

const (
	NotePrefix      = "note"
	RecordingPrefix = "rec"
)

// NewID returns "<prefix>_<32 hex chars>" built from a random UUID.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// HasPrefix reports whether id was minted by NewID with prefix.
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	return ok && len(rest) == 32
}
