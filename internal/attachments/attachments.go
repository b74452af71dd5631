// Package attachments stores card attachment blobs.
package attachments

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"unicode"
)

var ErrNotFound = errors.New("attachment blob not found")

// MaxSize bounds a single upload.
const MaxSize = 10 << 20

// BlobStore keeps attachment bytes; metadata lives in the primary store.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// URL returns a time-limited download link for key.
	URL(ctx context.Context, key string, filename string) (string, error)
	Remove(ctx context.Context, key string) error
}

// ObjectKey places an attachment under its board and card.
func ObjectKey(boardID, cardID, attachmentID, filename string) string {
	return path.Join("boards", boardID, "cards", cardID, attachmentID+"-"+SanitizeFilename(filename))
}

// SanitizeFilename keeps letters, digits, dot, dash and underscore.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
