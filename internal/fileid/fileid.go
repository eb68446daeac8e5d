// Package fileid derives stable note and document ids for files picked up from disk.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const (
	docPrefix  = "file:"
	notePrefix = "note:"
	// 16 bytes of the digest keep ids short while collisions stay negligible.
	idBytes = 16
)

// FileDocID returns a stable document id for the given path. The same cleaned path always
// yields the same id, so a file that was already ingested can be recognized and skipped.
func FileDocID(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return docPrefix + hex.EncodeToString(sum[:idBytes])
}

// NoteID returns an id for a note file that changes whenever its content does.
// Notes are append-only, so an edited note file is ingested as a new note.
func NoteID(path string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(filepath.Clean(path)))
	h.Write([]byte{0})
	h.Write(content)
	return notePrefix + hex.EncodeToString(h.Sum(nil)[:idBytes])
}
