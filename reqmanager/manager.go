// Package reqmanager implements the ResourceRequestManager (spec component
//5): per task-and-side bookkeeping that binds a requestgraph of delta-
// encoded request sets to resourceindex trees, and keeps those trees fresh
// across both full refreshes and path-level change notifications.
//
// There is no single teacher file this mirrors; it composes requestgraph
// and resourceindex the way the teacher's storage/filesystem.Storage
// composes its object, reference and config sub-stores behind one facade.
package reqmanager

import (
	"context"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/nimbusui/buildcache/requestgraph"
	"github.com/nimbusui/buildcache/resource"
	"github.com/nimbusui/buildcache/resourceindex"

	"github.com/nimbusui/buildcache/hashtree"
)

// resourceCacheSize bounds the per-call LRU used by RefreshIndices to avoid
// re-snapshotting the same resource twice when it is reachable from more
// than one node's own request set in a single refresh pass.
const resourceCacheSize = 10000

// Delta describes how one request set's signature moved during an
// UpdateIndices call, for a caller that wants to reuse build outputs
// differentially instead of re-running a task from scratch.
type Delta struct {
	OldSignature string
	NewSignature string
	ChangedPaths []string
	HadRemoval   bool
}

// Manager tracks every request set a task has issued on one side (project
// or dependency) across however many times the task has run, so that an
// identical request set reuses its resourceindex instead of resolving and
// hashing resources again.
type Manager struct {
	graph    *requestgraph.Graph
	registry *hashtree.TreeRegistry
	depSide  bool

	useDifferentialUpdate       bool
	unusedAtLeastOnce           bool
	hasNewOrModifiedCacheEntries bool

	deltas map[string]*Delta // keyed by the pre-update signature
}

// NewManager returns an empty manager for one task-side, owning its own
// private TreeRegistry. depSide selects whether recorded requests are
// tagged as project- or dependency-side; useDifferentialUpdate enables
// delta tracking in UpdateIndices.
func NewManager(depSide, useDifferentialUpdate bool) *Manager {
	return NewManagerWithRegistry(depSide, useDifferentialUpdate, hashtree.NewTreeRegistry(nil))
}

// NewManagerWithRegistry is like NewManager but binds the manager's trees
// to an existing registry, so that several managers can share one batched
// flush. taskcache.Cache does not use it: each of its managers owns a
// private registry.
func NewManagerWithRegistry(depSide, useDifferentialUpdate bool, registry *hashtree.TreeRegistry) *Manager {
	return &Manager{
		graph:                 requestgraph.New(),
		registry:              registry,
		depSide:               depSide,
		useDifferentialUpdate: useDifferentialUpdate,
		deltas:                map[string]*Delta{},
	}
}

// AddRequests converts a recorded task run into a request set, reusing an
// existing node's index on an exact match and otherwise resolving only the
// resources newly introduced relative to the best-overlap parent (spec
// §4.4, §4.5). Returns the node id and its index signature.
func (m *Manager) AddRequests(ctx context.Context, rec resource.Recording, reader resource.Reader) (int, string, error) {
	requests := rec.ToRequests(m.depSide)
	if len(requests) == 0 {
		return 0, "", ErrNoRequests
	}

	if id, ok := m.graph.FindExactMatch(requests); ok {
		node, _ := m.graph.Node(id)
		idx := node.Metadata.(*resourceindex.Index)
		return id, idx.Signature(), nil
	}

	parentID, hasParent, added := m.graph.PlanAdd(requests)

	var idx *resourceindex.Index
	var err error
	if !hasParent {
		metas, rerr := m.resolveRequests(ctx, requests, reader, nil)
		if rerr != nil {
			return 0, "", rerr
		}
		idx, err = resourceindex.NewRoot(m.registry, metas, time.Now())
	} else {
		parentNode, _ := m.graph.Node(parentID)
		parentIdx := parentNode.Metadata.(*resourceindex.Index)
		deltaRequests := requestValues(added)
		metas, rerr := m.resolveRequests(ctx, deltaRequests, reader, nil)
		if rerr != nil {
			return 0, "", rerr
		}
		idx, err = parentIdx.Derive(metas)
	}
	if err != nil {
		return 0, "", err
	}

	id := m.graph.Commit(parentID, hasParent, added, idx)
	return id, idx.Signature(), nil
}

// RecordNoRequests marks that the task ran at least once without reading
// any resource, and returns the sentinel signature callers store for that
// case ("X", per spec §4.5).
func (m *Manager) RecordNoRequests() string {
	m.unusedAtLeastOnce = true
	return "X"
}

// GetIndexSignatures returns the signature of every request set this
// manager has ever recorded, plus "X" if RecordNoRequests was ever called.
func (m *Manager) GetIndexSignatures() []string {
	entries := m.graph.TraverseByDepth()
	out := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		idx := e.Node.Metadata.(*resourceindex.Index)
		out = append(out, idx.Signature())
	}
	if m.unusedAtLeastOnce {
		out = append(out, "X")
	}
	return out
}

// HasNewOrModifiedCacheEntries reports whether any RefreshIndices or
// UpdateIndices call on this manager has added or changed a resource. Once
// set, the flag is never cleared.
func (m *Manager) HasNewOrModifiedCacheEntries() bool { return m.hasNewOrModifiedCacheEntries }

// RefreshIndices re-resolves every node's own contribution (the resources
// it added relative to its parent, or its full set if a root) against
// reader's current state, and commits the result as one batched flush
// across every tree this manager owns (spec §4.3). Because every node's
// tree shares the same TreeRegistry, a change surfacing in an ancestor's
// own resources is visible in every descendant's tree too, whether or not
// that descendant has itself diverged from the ancestor.
func (m *Manager) RefreshIndices(ctx context.Context, reader resource.Reader) error {
	cache := lru.New(resourceCacheSize)
	entries := m.graph.TraverseByDepth()
	now := time.Now()

	for _, e := range entries {
		idx := e.Node.Metadata.(*resourceindex.Index)
		parentIdx := m.parentIndex(e.ParentID)

		before := ownResourceSet(idx, parentIdx)
		beforeByPath := metadataByPath(before)

		ownRequests := requestValues(e.Node.Added)
		after, err := m.resolveRequests(ctx, ownRequests, reader, cache)
		if err != nil {
			return err
		}
		afterByPath := metadataByPath(after)

		for p := range beforeByPath {
			if _, ok := afterByPath[p]; !ok {
				m.registry.ScheduleRemoval(p)
			}
		}
		for p, meta := range afterByPath {
			m.registry.ScheduleUpsert(meta, now)
		}
	}

	stats, _, err := m.registry.Flush(ctx)
	if err != nil {
		return err
	}
	if len(stats.Added) > 0 || len(stats.Updated) > 0 {
		m.hasNewOrModifiedCacheEntries = true
	}
	return nil
}

// UpdateIndices reacts to a set of changed virtual paths instead of doing a
// full refresh: it walks the graph parent-first, computing for each node
// the union of changedPaths relevant to it (its own request matches, plus
// whatever was relevant to its parent), re-resolves just those paths, and
// flushes once. It reports whether any node's signature actually moved,
// and, when differential updates are enabled, records a Delta per node
// whose signature changed without encountering a removal.
func (m *Manager) UpdateIndices(ctx context.Context, reader resource.Reader, changedPaths []string) (bool, error) {
	changed := make(map[string]bool, len(changedPaths))
	for _, p := range changedPaths {
		changed[p] = true
	}

	type touchedNode struct {
		nodeID      int
		originalSig string
	}

	relevantByNode := map[int][]string{}
	nodeIdx := map[int]*resourceindex.Index{}
	var touched []touchedNode
	now := time.Now()

	for _, e := range m.graph.TraverseByDepth() {
		idx := e.Node.Metadata.(*resourceindex.Index)
		nodeIdx[e.NodeID] = idx

		relevant := append([]string(nil), relevantByNode[e.ParentID]...)
		ownMatches := map[string]bool{}
		for _, req := range e.Node.Added {
			if len(req.Patterns) > 0 {
				for p := range changed {
					if matchAny(req.Patterns, p) {
						ownMatches[p] = true
					}
				}
			} else if changed[req.Path] {
				ownMatches[req.Path] = true
			}
		}
		for p := range ownMatches {
			if !containsString(relevant, p) {
				relevant = append(relevant, p)
			}
		}
		relevantByNode[e.NodeID] = relevant

		if len(relevant) == 0 {
			continue
		}
		touched = append(touched, touchedNode{nodeID: e.NodeID, originalSig: idx.Signature()})
		for _, p := range relevant {
			res, err := reader.ByPath(ctx, p)
			if err != nil {
				return false, err
			}
			if res == nil {
				m.registry.ScheduleRemoval(p)
				continue
			}
			meta, err := resource.SnapshotMetadata(ctx, res)
			if err != nil {
				return false, err
			}
			m.registry.ScheduleUpsert(meta, now)
		}
	}

	if len(touched) == 0 {
		return false, nil
	}

	stats, _, err := m.registry.Flush(ctx)
	if err != nil {
		return false, err
	}
	if len(stats.Added) > 0 || len(stats.Updated) > 0 {
		m.hasNewOrModifiedCacheEntries = true
	}

	hasChanges := false
	for _, tn := range touched {
		idx := nodeIdx[tn.nodeID]
		newSig := idx.Signature()
		if newSig == tn.originalSig {
			continue
		}
		hasChanges = true
		if !m.useDifferentialUpdate {
			continue
		}

		hadRemoval := false
		for _, p := range relevantByNode[tn.nodeID] {
			if !idx.HasPath(p) {
				hadRemoval = true
				break
			}
		}
		m.deltas[tn.originalSig] = &Delta{
			OldSignature: tn.originalSig,
			NewSignature: newSig,
			ChangedPaths: append([]string(nil), relevantByNode[tn.nodeID]...),
			HadRemoval:   hadRemoval,
		}
	}
	return hasChanges, nil
}

// GetDeltas returns every recorded signature transition that did not
// involve a removal — a removal always forces a full re-run rather than a
// differential reuse (spec §11). If the same original signature moved more
// than once across repeated UpdateIndices calls, only the latest
// transition is kept.
func (m *Manager) GetDeltas() map[string]Delta {
	out := make(map[string]Delta, len(m.deltas))
	for k, v := range m.deltas {
		if v.HadRemoval {
			continue
		}
		out[k] = *v
	}
	return out
}

// AddAffiliatedRequestSet is a named but unimplemented extension point
// (spec §11 Open Questions): binding a request set to another manager's
// node rather than this one's own graph. Always returns ErrNotImplemented.
func (m *Manager) AddAffiliatedRequestSet(context.Context, int, []resource.Request) (int, error) {
	return 0, ErrNotImplemented
}

func (m *Manager) parentIndex(parentID int) *resourceindex.Index {
	if parentID < 0 {
		return nil
	}
	n, ok := m.graph.Node(parentID)
	if !ok {
		return nil
	}
	return n.Metadata.(*resourceindex.Index)
}

// ownResourceSet returns the metadata a node itself contributed: the whole
// resolved set for a root, or just what it added relative to its parent.
func ownResourceSet(idx, parentIdx *resourceindex.Index) []resource.Metadata {
	if parentIdx == nil {
		paths := idx.GetResourcePaths()
		out := make([]resource.Metadata, 0, len(paths))
		for _, p := range paths {
			meta, _ := idx.GetResourceByPath(p)
			out = append(out, meta)
		}
		return out
	}
	return idx.AddedSince(parentIdx)
}

func metadataByPath(metas []resource.Metadata) map[string]resource.Metadata {
	out := make(map[string]resource.Metadata, len(metas))
	for _, m := range metas {
		out[m.Path] = m
	}
	return out
}

func requestValues(m map[string]resource.Request) []resource.Request {
	out := make([]resource.Request, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// resolveRequests resolves an ordered list of requests against reader,
// deduplicating by resolved path and snapshotting metadata. cache, if
// non-nil, is a per-call LRU avoiding repeat Integrity computation when the
// same resource is reachable from more than one request.
func (m *Manager) resolveRequests(ctx context.Context, requests []resource.Request, reader resource.Reader, cache *lru.Cache) ([]resource.Metadata, error) {
	seen := map[string]bool{}
	var out []resource.Metadata

	add := func(r resource.Resource) error {
		if seen[r.Path()] {
			return nil
		}
		seen[r.Path()] = true
		meta, err := m.snapshot(ctx, r, cache)
		if err != nil {
			return err
		}
		out = append(out, meta)
		return nil
	}

	for _, req := range requests {
		if len(req.Patterns) > 0 {
			resources, err := reader.ByGlob(ctx, req.Patterns)
			if err != nil {
				return nil, err
			}
			for _, r := range resources {
				if err := add(r); err != nil {
					return nil, err
				}
			}
			continue
		}
		r, err := reader.ByPath(ctx, req.Path)
		if err != nil {
			return nil, err
		}
		if r == nil {
			continue
		}
		if err := add(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Manager) snapshot(ctx context.Context, r resource.Resource, cache *lru.Cache) (resource.Metadata, error) {
	if cache != nil {
		if v, ok := cache.Get(r.Path()); ok {
			return v.(resource.Metadata), nil
		}
	}
	meta, err := resource.SnapshotMetadata(ctx, r)
	if err != nil {
		return resource.Metadata{}, err
	}
	if cache != nil {
		cache.Add(r.Path(), meta)
	}
	return meta, nil
}
