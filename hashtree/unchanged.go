package hashtree

import (
	"time"

	"github.com/nimbusui/buildcache/resource"
)

// Unchanged implements the racy-update defence of spec §4.3: a resource is
// considered unchanged at upsert time if integrity and size both match the
// stored metadata, and either the stored lastModified predates the tree's
// current indexTimestamp, or it exactly equals the incoming lastModified.
//
// Resources whose stored lastModified equals indexTimestamp are "suspect"
// (see IsSuspect): they sit in the same filesystem-timestamp-resolution
// window as the last index write, so a prior upsert could have missed a
// same-second change (the "racy git" problem). This package never trusts a
// stale cached integrity for a suspect resource — callers always pass a
// freshly snapshotted resource.Metadata (resource.SnapshotMetadata reads
// integrity on every call), so the recomputation this clause demands is
// structural, not an extra step callers can forget.
func Unchanged(stored, incoming resource.Metadata, indexTimestamp time.Time) bool {
	if stored.Integrity != incoming.Integrity || stored.Size != incoming.Size {
		return false
	}
	if stored.LastModified.Before(indexTimestamp) {
		return true
	}
	return stored.LastModified.Equal(incoming.LastModified)
}

// IsSuspect reports whether a stored resource's lastModified sits exactly on
// the tree's indexTimestamp boundary, per §4.3.
func IsSuspect(stored resource.Metadata, indexTimestamp time.Time) bool {
	return stored.LastModified.Equal(indexTimestamp)
}
