// Package store defines the object store the reconciler talks to, along with
// an S3 backed implementation and an in-memory one.
package store

import (
	"context"
	"strings"
	"time"
)

// ObjectInfo describes a remote object without its body.
type ObjectInfo struct {
	Metadata     map[string]string
	ETag         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore is the set of operations reconciliation needs from a remote
// store. Implementations own authentication, transport and retries.
type ObjectStore interface {
	// HeadMetadata returns the object's metadata, or ErrNotFound.
	HeadMetadata(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// GetObject downloads the full body to destPath, replacing any existing
	// file there. destPath holds either its previous content or the complete
	// body, never a partial download.
	GetObject(ctx context.Context, bucket, key, destPath string) (*ObjectInfo, error)

	// PutObject uploads the file at bodyPath with metadata in a single request.
	PutObject(ctx context.Context, bucket, key, bodyPath string, metadata map[string]string) (*ObjectInfo, error)
}

// MetadataUpdater is implemented by stores that can replace an object's
// metadata without re-sending its body. The update must only apply while the
// object's ETag still equals ifMatch.
type MetadataUpdater interface {
	UpdateMetadata(ctx context.Context, bucket, key, ifMatch string, metadata map[string]string) (*ObjectInfo, error)
}

// UpdaterProvider lets a store decide at runtime whether it supports
// metadata-only updates.
type UpdaterProvider interface {
	AsUpdater() (MetadataUpdater, bool)
}

// Updater returns s as a MetadataUpdater when it supports one.
func Updater(s ObjectStore) (MetadataUpdater, bool) {
	if p, ok := s.(UpdaterProvider); ok {
		return p.AsUpdater()
	}
	u, ok := s.(MetadataUpdater)
	return u, ok
}

// LookupMetadata finds field in metadata ignoring case, since S3 lower-cases
// user metadata keys on the way in.
func LookupMetadata(metadata map[string]string, field string) (string, bool) {
	if v, ok := metadata[field]; ok {
		return v, true
	}
	for k, v := range metadata {
		if strings.EqualFold(k, field) {
			return v, true
		}
	}
	return "", false
}

// MergeMetadata returns a copy of base with field set to value. Any existing
// key matching field case-insensitively is replaced.
func MergeMetadata(base map[string]string, field, value string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		if strings.EqualFold(k, field) {
			continue
		}
		out[k] = v
	}
	out[field] = value
	return out
}
