package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob not found")

// Object is an open blob. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// Store persists document contents. Put returns the path recorded on the
// document row; Get and Delete accept that same path.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, path string) (Object, error)
	Delete(ctx context.Context, path string) error
}

// Key builds the blob name {name}_{timestamp}.{ext} for an uploaded filename.
func Key(filename string, now time.Time) string {
	return key(filename, now, "")
}

// UniqueKey is Key with a random segment after the timestamp, so uploads of the
// same filename within one millisecond do not overwrite each other.
func UniqueKey(filename string, now time.Time) string {
	return key(filename, now, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func key(filename string, now time.Time, nonce string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	name = sanitize(name)
	if name == "" {
		name = "document"
	}
	k := fmt.Sprintf("%s_%d", name, now.UnixMilli())
	if nonce != "" {
		k += "-" + nonce
	}
	if ext != "" {
		k += strings.ToLower(ext)
	}
	return k
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '/' || r == '\\' || r == '?' || r == '#' || r == '%':
			b.WriteRune('_')
		case r < 0x20:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// nameFromPath returns the blob name encoded at the end of a stored path.
func nameFromPath(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
