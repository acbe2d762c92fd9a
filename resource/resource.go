// Package resource defines the contracts the cache core consumes from the
// virtual filesystem: a lazily-readable Resource, the request vocabulary a
// task uses to describe what it read, and the Reader a task is handed.
//
// Resources are owned by the virtual filesystem, never by the cache. The
// cache only ever observes metadata through the accessors below.
package resource

import (
	"context"
	"io"
	"time"
)

// Resource is an opaque, lazily-readable unit addressed by a virtual path.
// Integrity is assumed to be computed at most once per resource by the
// implementation backing it; the cache never recomputes it itself.
type Resource interface {
	// Path returns the virtual path this resource was resolved from.
	Path() string

	// Size returns the resource's size in bytes.
	Size() int64

	// LastModified returns the resource's last-modified instant.
	LastModified() time.Time

	// Inode returns a stable, filesystem-local identifier for the resource.
	// Two resources with the same path but different inodes indicate the
	// underlying file was replaced rather than edited in place.
	Inode() uint64

	// Integrity returns the resource's content hash. Implementations should
	// cache the result after first computation.
	Integrity(ctx context.Context) (string, error)

	// Open returns a reader over the resource's bytes. The caller must
	// close it.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Reader is the contract a task receives: path-based and glob-based lookup
// against one side of the build (project sources or dependency sources).
type Reader interface {
	// ByPath resolves a single virtual path. It returns (nil, nil) on a
	// miss; errors are reserved for I/O failures.
	ByPath(ctx context.Context, path string) (Resource, error)

	// ByGlob resolves an ordered set of glob patterns against the full
	// namespace the reader covers, returning the union of matches.
	ByGlob(ctx context.Context, patterns []string) ([]Resource, error)
}

// Metadata is a value snapshot of a Resource's identity fields, used
// wherever the cache needs to carry resource facts without holding a live
// handle (tree nodes, serialised indices, derived-tree diffs).
type Metadata struct {
	Path         string
	Integrity    string
	Size         int64
	LastModified time.Time
	Inode        uint64
}

// SnapshotMetadata resolves a Resource's integrity and captures a Metadata
// value for it.
func SnapshotMetadata(ctx context.Context, r Resource) (Metadata, error) {
	integrity, err := r.Integrity(ctx)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Path:         r.Path(),
		Integrity:    integrity,
		Size:         r.Size(),
		LastModified: r.LastModified(),
		Inode:        r.Inode(),
	}, nil
}
