package hashtree

import (
	"github.com/nimbusui/buildcache/resource"
)

// SharedHashTree is a HashTree additionally bound to a TreeRegistry:
// mutations are scheduled through the registry and only take effect on
// Flush, never applied directly (spec §4.2). The back-link to the registry
// is a plain pointer, not an owning reference — per Design Notes §9 the
// registry is the sole owner of the set of trees it manages; a tree never
// keeps the registry alive and never mutates itself outside a Flush.
type SharedHashTree struct {
	tree         *HashTree
	registry     *TreeRegistry
	pendingDirty map[string]bool
}

// NewSharedHashTree wraps base, registers it with registry, and returns the
// wrapper. base should not be mutated directly after this call.
func NewSharedHashTree(registry *TreeRegistry, base *HashTree) *SharedHashTree {
	t := &SharedHashTree{tree: base, registry: registry}
	registry.Register(t)
	return t
}

// HasPath, GetResourceByPath, GetResourcePaths, GetRootHash, IndexTimestamp
// delegate to the underlying tree; reads never need the registry.
func (t *SharedHashTree) HasPath(path string) bool { return t.tree.HasPath(path) }

func (t *SharedHashTree) GetResourceByPath(path string) (resource.Metadata, bool) {
	return t.tree.GetResourceByPath(path)
}

func (t *SharedHashTree) GetResourcePaths() []string { return t.tree.GetResourcePaths() }

func (t *SharedHashTree) GetRootHash() string { return t.tree.GetRootHash() }

func (t *SharedHashTree) Unwrap() *HashTree { return t.tree }

// Registry returns the TreeRegistry this tree is bound to. Callers schedule
// mutations through it directly (registry.ScheduleUpsert/ScheduleRemoval);
// nothing changes until the registry's next Flush.
func (t *SharedHashTree) Registry() *TreeRegistry { return t.registry }

// DeriveTree returns a new SharedHashTree whose root is a shallow copy of
// this tree's root directory node, with additional resources inserted. The
// copy-on-write contract: only directories touched by inserting additional
// (or, later, by any further mutation) are shallow-copied; every untouched
// subtree is shared by pointer with the source tree (spec §4.2).
func (t *SharedHashTree) DeriveTree(additional []resource.Metadata) (*SharedHashTree, error) {
	newRoot := t.tree.root.shallowCopy()
	derived := &HashTree{root: newRoot, indexTimestamp: t.tree.indexTimestamp}

	dirty := map[string]bool{}
	for _, m := range additional {
		if err := derived.insertCOW(m, dirty); err != nil {
			return nil, err
		}
	}
	derived.rehashDirty(dirty)

	out := &SharedHashTree{tree: derived, registry: t.registry}
	t.registry.Register(out)
	return out, nil
}

// GetAddedResources returns the metadata of every resource reachable from t
// but not present in base, found by co-traversal: identical object
// references are pruned immediately (O(1) per shared subtree), divergent
// directories recurse, and entirely new subtrees contribute all their
// leaves (spec §4.2).
func (t *SharedHashTree) GetAddedResources(base *SharedHashTree) []resource.Metadata {
	var out []resource.Metadata
	var walk func(a, b *TreeNode) // a = derived (t), b = base; b may be nil
	walk = func(a, b *TreeNode) {
		if a == b {
			return // identical object: nothing new beneath it
		}
		if !a.IsDir() {
			if b == nil || b.IsDir() || b.Hash() != a.Hash() {
				out = append(out, a.Metadata())
			}
			return
		}
		it := a.children.Iterator()
		for it.Next() {
			name := it.Key().(string)
			childA := it.Value().(*TreeNode)
			var childB *TreeNode
			if b != nil && b.IsDir() {
				if v, ok := b.child(name); ok {
					childB = v
				}
			}
			walk(childA, childB)
		}
	}
	walk(t.tree.root, base.tree.root)
	return out
}

// insertCOW is like HashTree.insert but shallow-copies any existing
// directory node it must descend into before mutating it, so untouched
// siblings stay aliased with whatever tree this one was derived from.
func (t *HashTree) insertCOW(m resource.Metadata, dirty map[string]bool) error {
	segs := splitPath(m.Path)
	if len(segs) == 0 {
		return &TreeStructureError{Path: m.Path, Want: "resource", Got: "empty path"}
	}

	cur := t.root
	for i, seg := range segs[:len(segs)-1] {
		walked := joinSegs(segs[:i+1])
		next, ok := cur.child(seg)
		var child *TreeNode
		switch {
		case !ok:
			child = newDirNode(seg)
		case !next.IsDir():
			return &TreeStructureError{Path: walked, Want: "directory", Got: "resource"}
		default:
			child = next.shallowCopy()
		}
		cur.children.Put(seg, child)
		cur = child
		dirty[walked] = true
	}

	leaf := segs[len(segs)-1]
	if existing, ok := cur.child(leaf); ok && existing.IsDir() {
		return &TreeStructureError{Path: m.Path, Want: "resource", Got: "directory"}
	}
	cur.children.Put(leaf, newResourceNode(leaf, m))
	dirty[joinSegs(segs[:len(segs)-1])] = true
	return nil
}

func joinSegs(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
