package reqmanager

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nimbusui/buildcache/hashtree"
	"github.com/nimbusui/buildcache/requestgraph"
	"github.com/nimbusui/buildcache/resource"
	"github.com/nimbusui/buildcache/resourceindex"
)

// metadataJSON is the wire shape of one resource.Metadata.
type metadataJSON struct {
	Path         string    `json:"path"`
	Integrity    string    `json:"integrity"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Inode        uint64    `json:"inode"`
}

func toMetadataJSON(m resource.Metadata) metadataJSON {
	return metadataJSON{
		Path:         m.Path,
		Integrity:    m.Integrity,
		Size:         m.Size,
		LastModified: m.LastModified,
		Inode:        m.Inode,
	}
}

func fromMetadataJSON(j metadataJSON) resource.Metadata {
	return resource.Metadata{
		Path:         j.Path,
		Integrity:    j.Integrity,
		Size:         j.Size,
		LastModified: j.LastModified,
		Inode:        j.Inode,
	}
}

// indexJSON is the wire shape of one node's resourceindex contribution: the
// full resource set for a root node, or just the delta relative to its
// parent otherwise (spec §6 — roots carry a full hash tree, deltas carry
// only their added-resource metadata).
type indexJSON struct {
	Root      bool           `json:"root"`
	Resources []metadataJSON `json:"resources"`
}

// CacheObject is the JSON-serialisable shape of a whole Manager: the
// request-set graph's structure plus, per node, enough to rebuild its
// resourceindex.
type CacheObject struct {
	Graph             requestgraph.CacheObject `json:"requestSetGraph"`
	Indices           map[string]indexJSON     `json:"indices"`
	IndexTimestamp    time.Time                `json:"indexTimestamp"`
	UnusedAtLeastOnce bool                     `json:"unusedAtLeastOnce"`
}

// ToCacheObject serialises the manager's graph and every node's index
// contribution. Deltas accumulated by UpdateIndices are not persisted —
// they describe one in-memory update cycle, not durable cache state.
func (m *Manager) ToCacheObject() CacheObject {
	out := CacheObject{
		Graph:             m.graph.ToCacheObject(),
		Indices:           map[string]indexJSON{},
		UnusedAtLeastOnce: m.unusedAtLeastOnce,
	}

	for _, e := range m.graph.TraverseByDepth() {
		idx := e.Node.Metadata.(*resourceindex.Index)
		parentIdx := m.parentIndex(e.ParentID)
		isRoot := e.ParentID < 0

		metas := ownResourceSet(idx, parentIdx)
		resources := make([]metadataJSON, 0, len(metas))
		for _, mt := range metas {
			resources = append(resources, toMetadataJSON(mt))
		}
		out.Indices[strconv.Itoa(e.NodeID)] = indexJSON{Root: isRoot, Resources: resources}

		if isRoot {
			out.IndexTimestamp = idx.Tree().Unwrap().IndexTimestamp()
		}
	}
	return out
}

// FromCacheObject rebuilds a Manager from a CacheObject, registering every
// rebuilt resourceindex tree with registry.
func FromCacheObject(data CacheObject, registry *hashtree.TreeRegistry, depSide, useDifferentialUpdate bool) (*Manager, error) {
	m := &Manager{
		registry:              registry,
		depSide:               depSide,
		useDifferentialUpdate: useDifferentialUpdate,
		unusedAtLeastOnce:     data.UnusedAtLeastOnce,
		deltas:                map[string]*Delta{},
	}

	parentOf := make(map[int]int, len(data.Graph.Nodes))
	for _, nj := range data.Graph.Nodes {
		parentOf[nj.ID] = nj.ParentID
	}

	indexByID := map[int]*resourceindex.Index{}
	g, err := requestgraph.FromCacheObject(data.Graph, func(id int) (any, error) {
		ij, ok := data.Indices[strconv.Itoa(id)]
		if !ok {
			return nil, fmt.Errorf("reqmanager: missing index for node %d", id)
		}
		metas := make([]resource.Metadata, 0, len(ij.Resources))
		for _, rj := range ij.Resources {
			metas = append(metas, fromMetadataJSON(rj))
		}

		if ij.Root {
			idx, err := resourceindex.NewRoot(registry, metas, data.IndexTimestamp)
			if err != nil {
				return nil, err
			}
			indexByID[id] = idx
			return idx, nil
		}

		parentID := parentOf[id]
		parentIdx, ok := indexByID[parentID]
		if !ok {
			return nil, fmt.Errorf("reqmanager: parent index %d not yet built for node %d", parentID, id)
		}
		idx, err := parentIdx.Derive(metas)
		if err != nil {
			return nil, err
		}
		indexByID[id] = idx
		return idx, nil
	})
	if err != nil {
		return nil, err
	}

	m.graph = g
	return m, nil
}
