// Package castore defines the content-addressed store contract the cache
// core consumes (spec §6): a persistent blob store keyed by content
// integrity, holding per-stage task outputs and per-project build
// manifests. The store itself is an external collaborator — concrete
// backends live in castore/fs and castore/memory, grounded on go-git's
// storage/filesystem and storage/memory layouts.
package castore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get/GetByIntegrity on a cache miss, matching
// spec §6 "the store must ... return null for cache miss".
var ErrNotFound = errors.New("castore: not found")

// Store is the contract a ProjectBuildCache and the build manifest reader
// consume. Implementations must be atomic per key: a Get that races a Put
// of the same key observes either the whole old value or the whole new
// one, never a partial write.
type Store interface {
	// Get returns the bytes stored under key, or ErrNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any existing value.
	Put(ctx context.Context, key string, data []byte) error

	// PutStream is like Put but for a caller that already has an
	// io.Reader (e.g. streaming a task's output without buffering it
	// wholesale).
	PutStream(ctx context.Context, key string, r io.Reader) error

	// GetByIntegrity resolves a blob directly by its content integrity,
	// independent of whatever key it was originally Put under; a cache
	// verify pass or a cross-task blob reuse uses this instead of Get.
	// Returns ErrNotFound on a miss or an integrity mismatch.
	GetByIntegrity(ctx context.Context, integrity string) ([]byte, error)
}

// StageKey composes the secondary cache key spec §4.6/§5 describes:
// writes are serialised per (buildSignature, stageName, resourcePath), and
// reads are addressed by the same tuple plus the task's [projectSig,
// depSig] pair.
func StageKey(buildSignature, taskName, projectSig, depSig string) string {
	return buildSignature + "/" + taskName + "/" + projectSig + "-" + depSig
}

// ManifestKey composes the key a per-project build manifest (spec §6) is
// stored and retrieved under.
func ManifestKey(projectID, buildSignature string) string {
	return "manifest/" + projectID + "/" + buildSignature
}
