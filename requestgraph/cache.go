package requestgraph

import (
	"fmt"
	"sort"

	"github.com/nimbusui/buildcache/resource"
)

// requestJSON is the wire shape of one resource.Request.
type requestJSON struct {
	Type     string   `json:"type"`
	Path     string   `json:"path,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
}

func toRequestJSON(r resource.Request) requestJSON {
	return requestJSON{Type: r.Type.String(), Path: r.Path, Patterns: r.Patterns}
}

func fromRequestJSON(j requestJSON) (resource.Request, error) {
	t, ok := resource.ParseRequestType(j.Type)
	if !ok {
		return resource.Request{}, fmt.Errorf("requestgraph: unknown request type %q", j.Type)
	}
	return resource.Request{Type: t, Path: j.Path, Patterns: j.Patterns}, nil
}

// nodeJSON is the wire shape of one graph node. Metadata is serialised
// separately by the owner (reqmanager), keyed by node id.
type nodeJSON struct {
	ID       int           `json:"id"`
	ParentID int           `json:"parentId"`
	Added    []requestJSON `json:"addedRequests"`
}

// CacheObject is the JSON-serialisable shape of a Graph's structure,
// matching spec §6's `requestSetGraph: {nodes, nextId}`.
type CacheObject struct {
	Nodes  []nodeJSON `json:"nodes"`
	NextID int        `json:"nextId"`
}

// ToCacheObject serialises the graph's structure (ids, parent links, added
// requests). Node metadata is not included; callers persist it alongside,
// keyed by node id, and restore it via FromCacheObject's metadata callback.
func (g *Graph) ToCacheObject() CacheObject {
	out := CacheObject{NextID: g.nextID}
	for _, id := range g.order {
		n := g.nodes[id]
		added := make([]requestJSON, 0, len(n.Added))
		keys := make([]string, 0, len(n.Added))
		for k := range n.Added {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			added = append(added, toRequestJSON(n.Added[k]))
		}
		out.Nodes = append(out.Nodes, nodeJSON{ID: id, ParentID: n.ParentID, Added: added})
	}
	return out
}

// FromCacheObject rebuilds a Graph's structure from a CacheObject. metadataFor
// is called once per node, in parent-before-child order, to attach node
// metadata (rebuilt by the caller from its own serialised indices).
func FromCacheObject(data CacheObject, metadataFor func(nodeID int) (any, error)) (*Graph, error) {
	g := New()
	g.nextID = data.NextID

	byID := make(map[int]nodeJSON, len(data.Nodes))
	childrenOf := map[int][]int{}
	var roots []int
	for _, nj := range data.Nodes {
		byID[nj.ID] = nj
		if nj.ParentID < 0 {
			roots = append(roots, nj.ID)
		} else {
			childrenOf[nj.ParentID] = append(childrenOf[nj.ParentID], nj.ID)
		}
	}
	sort.Ints(roots)

	var build func(id int) error
	build = func(id int) error {
		nj := byID[id]
		added := map[string]resource.Request{}
		for _, rj := range nj.Added {
			r, err := fromRequestJSON(rj)
			if err != nil {
				return err
			}
			added[r.Key()] = r
		}
		var md any
		var err error
		if metadataFor != nil {
			md, err = metadataFor(id)
			if err != nil {
				return err
			}
		}
		g.nodes[id] = &Node{ID: id, ParentID: nj.ParentID, Added: added, Metadata: md}
		g.order = append(g.order, id)
		kids := childrenOf[id]
		sort.Ints(kids)
		for _, c := range kids {
			if err := build(c); err != nil {
				return err
			}
		}
		return nil
	}

	for _, r := range roots {
		if err := build(r); err != nil {
			return nil, err
		}
	}
	return g, nil
}

