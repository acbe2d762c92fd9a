// Package resourceindex is a thin facade over a hashtree.SharedHashTree and
// the TreeRegistry it is bound to (spec §4 component 3): it is what a
// request-set graph node attaches as metadata, and what gets serialised
// into a task's cache object.
package resourceindex

import (
	"time"

	"github.com/nimbusui/buildcache/hashtree"
	"github.com/nimbusui/buildcache/resource"
)

// Index wraps one SharedHashTree with the registry it belongs to, so
// callers never need to thread both separately.
type Index struct {
	tree     *hashtree.SharedHashTree
	registry *hashtree.TreeRegistry
}

// NewRoot constructs a fresh index over an initial resource set and
// registers it with registry.
func NewRoot(registry *hashtree.TreeRegistry, resources []resource.Metadata, indexTimestamp time.Time) (*Index, error) {
	base, err := hashtree.Construct(resources, indexTimestamp)
	if err != nil {
		return nil, err
	}
	return &Index{tree: hashtree.NewSharedHashTree(registry, base), registry: registry}, nil
}

// Wrap adapts an already-constructed SharedHashTree.
func Wrap(registry *hashtree.TreeRegistry, tree *hashtree.SharedHashTree) *Index {
	return &Index{tree: tree, registry: registry}
}

// Signature returns the index's root hash — the value a request-set node
// reports upstream as its signature (spec §4.5).
func (idx *Index) Signature() string { return idx.tree.GetRootHash() }

// HasPath, GetResourceByPath, GetResourcePaths delegate straight to the
// underlying tree.
func (idx *Index) HasPath(path string) bool { return idx.tree.HasPath(path) }

func (idx *Index) GetResourceByPath(path string) (resource.Metadata, bool) {
	return idx.tree.GetResourceByPath(path)
}

func (idx *Index) GetResourcePaths() []string { return idx.tree.GetResourcePaths() }

// Tree exposes the underlying SharedHashTree for registry-level operations
// (scheduling upserts/removals ahead of a Flush).
func (idx *Index) Tree() *hashtree.SharedHashTree { return idx.tree }

// Registry returns the TreeRegistry this index's tree is bound to.
func (idx *Index) Registry() *hashtree.TreeRegistry { return idx.registry }

// Derive returns a new Index whose tree is a copy-on-write derivation of
// this one, with additional resources inserted (spec §4.2, §4.5: a derived
// request-set node's index is its parent's tree plus the node's own delta
// resources).
func (idx *Index) Derive(additional []resource.Metadata) (*Index, error) {
	derivedTree, err := idx.tree.DeriveTree(additional)
	if err != nil {
		return nil, err
	}
	return &Index{tree: derivedTree, registry: idx.registry}, nil
}

// AddedSince returns the resources reachable from idx but absent from base,
// used to recover a derived node's own resources relative to its parent
// when refreshing or serialising a request-set graph.
func (idx *Index) AddedSince(base *Index) []resource.Metadata {
	return idx.tree.GetAddedResources(base.tree)
}
