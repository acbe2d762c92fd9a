// Package hashtree implements a Merkle-style, content-addressed index over
// a filesystem-like namespace of resources (spec §4.1), plus the
// copy-on-write derivation used by SharedHashTree (spec §4.2) and the
// racy-update defence of spec §4.3.
//
// Grounded on go-git's utils/merkletrie/filesystem.node: the same
// metadata-first comparison and the same bottom-up hash recompute, lifted
// from "one blob per file" to an arbitrary Resource/Metadata pair, and made
// copy-on-write so many derived trees can share subtrees by pointer.
package hashtree

import (
	"sort"
	"strings"
	"time"

	"github.com/nimbusui/buildcache/resource"
)

// HashTree owns a root directory node and a monotonic indexTimestamp. It
// answers path/hash queries and accepts direct (non-batched) mutation; a
// HashTree bound to a registry via SharedHashTree instead schedules
// mutations for the registry's flush.
type HashTree struct {
	root            *TreeNode
	indexTimestamp  time.Time
}

// New constructs an empty HashTree.
func New() *HashTree {
	return &HashTree{root: newDirNode(""), indexTimestamp: time.Now()}
}

// Construct builds a HashTree from an initial iterable of resource
// metadata, computing every hash bottom-up. Insertion order never affects
// the resulting root hash (spec §8 universal invariant).
func Construct(resources []resource.Metadata, indexTimestamp time.Time) (*HashTree, error) {
	t := &HashTree{root: newDirNode(""), indexTimestamp: indexTimestamp}
	dirty := map[string]bool{}
	for _, m := range resources {
		if err := t.insert(m, dirty); err != nil {
			return nil, err
		}
	}
	t.rehashDirty(dirty)
	return t, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func ancestorPaths(segs []string) []string {
	out := make([]string, 0, len(segs))
	for i := 1; i <= len(segs); i++ {
		out = append(out, strings.Join(segs[:i], "/"))
	}
	return out
}

// insert places a resource at its path, creating intermediate directory
// nodes as needed, and records every touched directory path in dirty for a
// later single rehash pass.
func (t *HashTree) insert(m resource.Metadata, dirty map[string]bool) error {
	segs := splitPath(m.Path)
	if len(segs) == 0 {
		return &TreeStructureError{Path: m.Path, Want: "resource", Got: "empty path"}
	}

	cur := t.root
	walked := ""
	for i, seg := range segs[:len(segs)-1] {
		walked = strings.Join(segs[:i+1], "/")
		next, ok := cur.child(seg)
		if !ok {
			next = newDirNode(seg)
			cur.children.Put(seg, next)
		} else if !next.IsDir() {
			return &TreeStructureError{Path: walked, Want: "directory", Got: "resource"}
		}
		cur = next
		dirty[walked] = true
	}

	leaf := segs[len(segs)-1]
	if existing, ok := cur.child(leaf); ok && existing.IsDir() {
		return &TreeStructureError{Path: m.Path, Want: "resource", Got: "directory"}
	}
	cur.children.Put(leaf, newResourceNode(leaf, m))
	dirty[strings.Join(segs[:len(segs)-1], "/")] = true
	return nil
}

// rehashDirty recomputes the hash of every directory path in dirty, deepest
// first, then every ancestor up to the root.
func (t *HashTree) rehashDirty(dirty map[string]bool) {
	all := map[string]bool{}
	for p := range dirty {
		segs := splitPath(p)
		for _, a := range ancestorPaths(segs) {
			all[a] = true
		}
	}
	all[""] = true

	paths := make([]string, 0, len(all))
	for p := range all {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		return len(splitPath(paths[i])) > len(splitPath(paths[j]))
	})

	for _, p := range paths {
		n := t.dirAt(p)
		if n != nil {
			n.invalidate()
			n.Hash()
		}
	}
}

func (t *HashTree) dirAt(p string) *TreeNode {
	segs := splitPath(p)
	cur := t.root
	for _, seg := range segs {
		next, ok := cur.child(seg)
		if !ok || !next.IsDir() {
			return nil
		}
		cur = next
	}
	return cur
}

// HasPath reports whether a resource exists at the given path.
func (t *HashTree) HasPath(path string) bool {
	n := t.nodeAt(path)
	return n != nil && !n.IsDir()
}

func (t *HashTree) nodeAt(path string) *TreeNode {
	segs := splitPath(path)
	cur := t.root
	for _, seg := range segs {
		if !cur.IsDir() {
			return nil
		}
		next, ok := cur.child(seg)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// GetResourceByPath returns the resource metadata stored at path, if any.
func (t *HashTree) GetResourceByPath(path string) (resource.Metadata, bool) {
	n := t.nodeAt(path)
	if n == nil || n.IsDir() {
		return resource.Metadata{}, false
	}
	return n.Metadata(), true
}

// GetResourcePaths returns every resource path reachable in the tree.
func (t *HashTree) GetResourcePaths() []string {
	var out []string
	var walk func(n *TreeNode, prefix string)
	walk = func(n *TreeNode, prefix string) {
		it := n.children.Iterator()
		for it.Next() {
			child := it.Value().(*TreeNode)
			p := it.Key().(string)
			if prefix != "" {
				p = prefix + "/" + p
			}
			if child.IsDir() {
				walk(child, p)
			} else {
				out = append(out, p)
			}
		}
	}
	walk(t.root, "")
	return out
}

// GetRootHash returns the tree's index signature.
func (t *HashTree) GetRootHash() string {
	return t.root.Hash()
}

// IndexTimestamp returns the tree's current logical clock value.
func (t *HashTree) IndexTimestamp() time.Time { return t.indexTimestamp }

// Root exposes the root node for registry-level batched operations.
func (t *HashTree) Root() *TreeNode { return t.root }

// SetRoot replaces the root node, used by derivation and restore.
func (t *HashTree) SetRoot(n *TreeNode) { t.root = n }

// SetIndexTimestamp stamps a new logical clock value, used after a flush.
func (t *HashTree) SetIndexTimestamp(ts time.Time) { t.indexTimestamp = ts }

// UpsertResources inserts or replaces resources directly (no registry
// involved). Unchanged resources (per Unchanged) are skipped. Returns the
// paths actually added, updated, and left unchanged.
func (t *HashTree) UpsertResources(resources []resource.Metadata, newIndexTimestamp time.Time) (added, updated, unchanged []string, err error) {
	dirty := map[string]bool{}
	for _, m := range resources {
		existing, ok := t.GetResourceByPath(m.Path)
		switch {
		case !ok:
			if err := t.insert(m, dirty); err != nil {
				return nil, nil, nil, err
			}
			added = append(added, m.Path)
		case Unchanged(existing, m, t.indexTimestamp):
			unchanged = append(unchanged, m.Path)
		default:
			if err := t.insert(m, dirty); err != nil {
				return nil, nil, nil, err
			}
			updated = append(updated, m.Path)
		}
	}
	t.rehashDirty(dirty)
	t.indexTimestamp = newIndexTimestamp
	return added, updated, unchanged, nil
}

// RemoveResources deletes resources at the given paths and prunes any
// ancestor directory left empty, bottom-up.
func (t *HashTree) RemoveResources(paths []string) (removed []string) {
	dirty := map[string]bool{}
	for _, p := range paths {
		if t.remove(p, dirty) {
			removed = append(removed, p)
		}
	}
	t.pruneEmpty()
	t.rehashDirty(dirty)
	return removed
}

func (t *HashTree) remove(path string, dirty map[string]bool) bool {
	segs := splitPath(path)
	if len(segs) == 0 {
		return false
	}
	cur := t.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.child(seg)
		if !ok || !next.IsDir() {
			return false
		}
		cur = next
	}
	leaf := segs[len(segs)-1]
	if _, ok := cur.child(leaf); !ok {
		return false
	}
	cur.children.Remove(leaf)
	dirty[strings.Join(segs[:len(segs)-1], "/")] = true
	return true
}

// pruneEmpty removes directory nodes left with no children, deepest first.
func (t *HashTree) pruneEmpty() {
	var walk func(n *TreeNode) bool // returns true if n should be pruned
	walk = func(n *TreeNode) bool {
		it := n.children.Iterator()
		var toPrune []string
		for it.Next() {
			name := it.Key().(string)
			child := it.Value().(*TreeNode)
			if child.IsDir() && walk(child) {
				toPrune = append(toPrune, name)
			}
		}
		for _, name := range toPrune {
			n.children.Remove(name)
		}
		return n.children.Size() == 0
	}
	walk(t.root)
}
