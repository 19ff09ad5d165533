// Package storage defines the blob storage abstraction used for collected
// files and run reports. Implementations live in the gcs, local, and memory
// subpackages.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// BlobStore persists objects and returns a URI for each one.
type BlobStore interface {
	PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error)
}

// ObjectPath joins slash-separated segments into a clean object name with no
// leading slash. Empty segments are skipped.
func ObjectPath(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.TrimPrefix(path.Join(kept...), "/")
}
