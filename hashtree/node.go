package hashtree

import (
	"crypto"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/nimbusui/buildcache/resource"
	"github.com/nimbusui/buildcache/resource/roothash"
)

// kind distinguishes the two node shapes a TreeNode can take, per spec §3.
type kind int

const (
	kindResource kind = iota
	kindDirectory
)

// TreeNode is either a directory node (a sorted, copy-on-write mapping from
// child name to TreeNode, plus a cached hash) or a resource node (cached
// resource metadata plus a cached hash). The hash of a directory is a
// deterministic function of its children's hashes sorted by name; see
// directoryHash. The hash of a resource node is a function of its metadata
// quadruple (integrity, size, lastModified, inode).
//
// Grounded on go-git's utils/merkletrie/filesystem.node, generalized from
// "blob hash + file mode" to the four-field resource metadata this spec
// uses, and with directory children held in a gods treemap so that
// deriveTree can shallow-copy just the touched directories (copy-on-write)
// while sharing every untouched subtree by pointer.
type TreeNode struct {
	kind kind
	name string
	hash string // cached; empty means "needs recompute"

	// directory fields
	children *treemap.Map // string -> *TreeNode, sorted by name

	// resource fields
	meta resource.Metadata
}

func newDirNode(name string) *TreeNode {
	return &TreeNode{kind: kindDirectory, name: name, children: treemap.NewWithStringComparator()}
}

func newResourceNode(name string, meta resource.Metadata) *TreeNode {
	return &TreeNode{kind: kindResource, name: name, meta: meta}
}

// shallowCopy returns a directory node with a fresh children map containing
// the same child pointers (copy-on-write at this directory's level only).
// It is an error to call shallowCopy on a resource node.
func (n *TreeNode) shallowCopy() *TreeNode {
	if n.kind != kindDirectory {
		panic("hashtree: shallowCopy of a resource node")
	}
	cp := &TreeNode{kind: kindDirectory, name: n.name, hash: n.hash, children: treemap.NewWithStringComparator()}
	it := n.children.Iterator()
	for it.Next() {
		cp.children.Put(it.Key(), it.Value())
	}
	return cp
}

// IsDir reports whether this node is a directory.
func (n *TreeNode) IsDir() bool { return n.kind == kindDirectory }

// Name returns the node's own path segment.
func (n *TreeNode) Name() string { return n.name }

// Hash returns the cached hash, computing it first if necessary.
func (n *TreeNode) Hash() string {
	if n.hash == "" {
		n.recompute()
	}
	return n.hash
}

// Metadata returns the resource metadata for a resource node. It panics if
// called on a directory node.
func (n *TreeNode) Metadata() resource.Metadata {
	if n.kind != kindResource {
		panic("hashtree: Metadata of a directory node")
	}
	return n.meta
}

func (n *TreeNode) child(name string) (*TreeNode, bool) {
	v, ok := n.children.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*TreeNode), true
}

func (n *TreeNode) invalidate() { n.hash = "" }

// recompute rehashes this single node from its current children/metadata.
// It does not recurse; callers are responsible for bottom-up ordering.
func (n *TreeNode) recompute() {
	if n.kind == kindResource {
		n.hash = resourceHash(n.meta)
		return
	}
	n.hash = directoryHash(n.children)
}

func resourceHash(m resource.Metadata) string {
	s := m.Integrity + "|" + strconv.FormatInt(m.Size, 10) + "|" +
		strconv.FormatInt(m.LastModified.UnixNano(), 10) + "|" + strconv.FormatUint(m.Inode, 10)
	h, err := roothash.Sum(crypto.SHA256, []byte(s))
	if err != nil {
		// Default algorithm is always registered.
		panic(err)
	}
	return h
}

func directoryHash(children *treemap.Map) string {
	names := make([]string, 0, children.Size())
	it := children.Iterator()
	for it.Next() {
		names = append(names, it.Key().(string))
	}
	sort.Strings(names)

	buf := make([]byte, 0, 64*len(names))
	for _, name := range names {
		v, _ := children.Get(name)
		child := v.(*TreeNode)
		buf = append(buf, []byte(name)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(child.Hash())...)
		buf = append(buf, '\n')
	}
	h, err := roothash.Sum(crypto.SHA256, buf)
	if err != nil {
		panic(err)
	}
	return h
}

// TreeStructureError is returned when a path collides with an existing
// resource of a different type (e.g. inserting "a/b" when "a" is already a
// resource node, or vice versa).
type TreeStructureError struct {
	Path string
	Want string
	Got  string
}

func (e *TreeStructureError) Error() string {
	return fmt.Sprintf("hashtree: path %q is a %s, expected %s", e.Path, e.Got, e.Want)
}

// indexTimestamp is the type of the logical time a tree is stamped with;
// kept here so node.go and the racy-update check share one clock type.
type indexTimestamp = time.Time
