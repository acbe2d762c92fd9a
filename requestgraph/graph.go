// Package requestgraph implements the delta-encoded DAG of request sets
// described in spec §3/§4.4: each node stores only the requests added
// relative to a parent chosen greedily for maximum overlap, so that many
// task runs with similar request signatures are stored compactly.
//
// There is no teacher file for this component (go-git has no analogous
// structure); its BFS traversal is modeled on the teacher's revlist.go,
// which walks a commit DAG breadth-first collecting ancestors.
package requestgraph

import (
	"sort"

	"github.com/nimbusui/buildcache/resource"
)

// Node is one request-set node: its own delta over its parent, plus
// whatever metadata the owner (reqmanager) attached — typically a
// *resourceindex.Index. Graph is generic over metadata to avoid a
// dependency on resourceindex.
type Node struct {
	ID       int
	ParentID int // -1 for a root node
	Added    map[string]resource.Request
	Metadata any

	materialised map[string]resource.Request // cached union walking to root
}

// Graph is a DAG of request-set nodes, ids assigned monotonically.
type Graph struct {
	nodes  map[int]*Node
	order  []int // insertion order, parent-before-child by construction
	nextID int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: map[int]*Node{}}
}

func keysOf(requests []resource.Request) map[string]resource.Request {
	m := make(map[string]resource.Request, len(requests))
	for _, r := range requests {
		m[r.Key()] = r
	}
	return m
}

// materialisedSet returns (and caches) the union of a node's Added set with
// every ancestor's, walking to the root.
func (g *Graph) materialisedSet(n *Node) map[string]resource.Request {
	if n.materialised != nil {
		return n.materialised
	}
	out := map[string]resource.Request{}
	if n.ParentID >= 0 {
		parent := g.nodes[n.ParentID]
		for k, v := range g.materialisedSet(parent) {
			out[k] = v
		}
	}
	for k, v := range n.Added {
		out[k] = v
	}
	n.materialised = out
	return out
}

// bestParent returns the node whose materialised set has the smallest
// number of keys missing from requestKeys (maximum overlap), and that
// missing count. Returns (nil, len(requestKeys)) if the graph is empty.
func (g *Graph) bestParent(requestKeys map[string]resource.Request) (*Node, int) {
	var best *Node
	bestMissing := -1
	for _, id := range g.order {
		n := g.nodes[id]
		mat := g.materialisedSet(n)
		missing := 0
		for k := range requestKeys {
			if _, ok := mat[k]; !ok {
				missing++
			}
		}
		if bestMissing == -1 || missing < bestMissing {
			best, bestMissing = n, missing
		}
	}
	if best == nil {
		return nil, len(requestKeys)
	}
	return best, bestMissing
}

// AddRequestSet finds the best existing parent (maximum key overlap) and
// creates a child node storing only the delta over it; if the graph is
// empty, the new node is a root storing every request. Returns the new
// node's id.
func (g *Graph) AddRequestSet(requests []resource.Request, metadata any) int {
	parentID, hasParent, added := g.PlanAdd(requests)
	return g.Commit(parentID, hasParent, added, metadata)
}

// PlanAdd computes, without mutating the graph, which existing node is the
// best parent for requests (maximum key overlap) and which request keys
// would need to be stored as this node's delta. Callers that need to build
// node metadata (a derived ResourceIndex) before the node exists call this
// first, then Commit.
func (g *Graph) PlanAdd(requests []resource.Request) (parentID int, hasParent bool, added map[string]resource.Request) {
	keys := keysOf(requests)
	parent, _ := g.bestParent(keys)
	if parent == nil {
		return -1, false, keys
	}
	parentSet := g.materialisedSet(parent)
	delta := map[string]resource.Request{}
	for k, v := range keys {
		if _, ok := parentSet[k]; !ok {
			delta[k] = v
		}
	}
	return parent.ID, true, delta
}

// Commit creates a new node with the given parent (as planned by PlanAdd)
// and metadata, and returns its id.
func (g *Graph) Commit(parentID int, hasParent bool, added map[string]resource.Request, metadata any) int {
	id := g.nextID
	g.nextID++

	pid := -1
	if hasParent {
		pid = parentID
	}
	n := &Node{ID: id, ParentID: pid, Added: map[string]resource.Request{}, Metadata: metadata}
	for k, v := range added {
		n.Added[k] = v
	}

	g.nodes[id] = n
	g.order = append(g.order, id)
	return id
}

// FindExactMatch returns the node whose materialised set equals requests
// exactly, if one exists.
func (g *Graph) FindExactMatch(requests []resource.Request) (int, bool) {
	keys := keysOf(requests)
	for _, id := range g.order {
		n := g.nodes[id]
		mat := g.materialisedSet(n)
		if len(mat) != len(keys) {
			continue
		}
		match := true
		for k := range keys {
			if _, ok := mat[k]; !ok {
				match = false
				break
			}
		}
		if match {
			return id, true
		}
	}
	return 0, false
}

// FindBestMatch returns the node whose materialised set is a subset of
// queryRequests and has the largest size — the largest reusable prefix.
func (g *Graph) FindBestMatch(queryRequests []resource.Request) (int, bool) {
	keys := keysOf(queryRequests)
	bestID, bestSize := 0, -1
	found := false
	for _, id := range g.order {
		n := g.nodes[id]
		mat := g.materialisedSet(n)
		if len(mat) > len(keys) {
			continue
		}
		isSubset := true
		for k := range mat {
			if _, ok := keys[k]; !ok {
				isSubset = false
				break
			}
		}
		if isSubset && len(mat) > bestSize {
			bestID, bestSize, found = id, len(mat), true
		}
	}
	return bestID, found
}

// Node returns a node by id.
func (g *Graph) Node(id int) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.order) }

// DepthEntry is one step of a parent-before-child breadth-first walk.
type DepthEntry struct {
	NodeID   int
	Node     *Node
	Depth    int
	ParentID int
}

func (g *Graph) depthOf(n *Node, memo map[int]int) int {
	if d, ok := memo[n.ID]; ok {
		return d
	}
	if n.ParentID < 0 {
		memo[n.ID] = 0
		return 0
	}
	d := g.depthOf(g.nodes[n.ParentID], memo) + 1
	memo[n.ID] = d
	return d
}

// TraverseByDepth yields every node parent-before-child, in ascending
// depth order. Within a depth, nodes keep the graph's own order: creation
// order (ascending id) for a graph built by Commit, depth-first order for
// one rebuilt by FromCacheObject.
func (g *Graph) TraverseByDepth() []DepthEntry {
	memo := map[int]int{}
	out := make([]DepthEntry, 0, len(g.order))
	for _, id := range g.order {
		n := g.nodes[id]
		out = append(out, DepthEntry{NodeID: id, Node: n, Depth: g.depthOf(n, memo), ParentID: n.ParentID})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Depth < out[j].Depth })
	return out
}

// TraverseSubtree returns startID and every descendant, parent-before-child.
func (g *Graph) TraverseSubtree(startID int) []DepthEntry {
	children := map[int][]int{}
	for _, id := range g.order {
		n := g.nodes[id]
		if n.ParentID >= 0 {
			children[n.ParentID] = append(children[n.ParentID], id)
		}
	}

	var out []DepthEntry
	var walk func(id int, depth int)
	walk = func(id int, depth int) {
		n := g.nodes[id]
		out = append(out, DepthEntry{NodeID: id, Node: n, Depth: depth, ParentID: n.ParentID})
		for _, c := range children[id] {
			walk(c, depth+1)
		}
	}
	walk(startID, 0)
	return out
}
