package hashtree

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimbusui/buildcache/resource"
)

// ErrResourceUnavailable is returned when a reader cannot produce the
// metadata needed to decide whether a resource changed; it aborts the
// enclosing flush with no partial mutation visible (spec §4.3, §7).
var ErrResourceUnavailable = errors.New("hashtree: resource unavailable")

// fetcher resolves current metadata for a resource path, used by Flush to
// fan out the integrity/size/mtime lookups §5 calls suspension points.
type fetcher func(ctx context.Context, path string) (resource.Metadata, bool, error)

type pendingUpsert struct {
	meta      resource.Metadata
	timestamp time.Time
}

// TreeRegistry batches scheduled upserts/removals across every tree that
// shares underlying nodes and commits them in one atomic, bottom-up
// recompute (spec §4.2). It is the exclusive writer for every tree it owns;
// trees never mutate themselves directly once registered — this avoids the
// owning-cycle go-git's cross-referenced nodes would otherwise need (Design
// Notes §9): a tree's back-pointer to its registry is a plain, non-owning
// pointer, and the registry's pointers to its trees are the owning reference.
type TreeRegistry struct {
	mu      sync.Mutex
	trees   map[*SharedHashTree]struct{}
	upserts map[string]pendingUpsert // path -> pending upsert
	removes map[string]struct{}      // path -> pending removal
	fetch   fetcher
}

// NewTreeRegistry creates a registry. fetch resolves a path's current
// metadata for an upsert; it is called during Flush, one call per pending
// upsert, fanned out with a bounded concurrency limit.
func NewTreeRegistry(fetch fetcher) *TreeRegistry {
	return &TreeRegistry{
		trees:   map[*SharedHashTree]struct{}{},
		upserts: map[string]pendingUpsert{},
		removes: map[string]struct{}{},
		fetch:   fetch,
	}
}

// Register adds a tree to the registry's managed set.
func (r *TreeRegistry) Register(t *SharedHashTree) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trees[t] = struct{}{}
}

// Unregister removes a tree from the registry's managed set.
func (r *TreeRegistry) Unregister(t *SharedHashTree) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trees, t)
}

// ScheduleUpsert queues an upsert for the next Flush. Scheduling an upsert
// cancels a pending removal for the same path.
func (r *TreeRegistry) ScheduleUpsert(meta resource.Metadata, newIndexTimestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.removes, meta.Path)
	r.upserts[meta.Path] = pendingUpsert{meta: meta, timestamp: newIndexTimestamp}
}

// ScheduleRemoval queues a removal for the next Flush. Scheduling a removal
// cancels a pending upsert for the same path.
func (r *TreeRegistry) ScheduleRemoval(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.upserts, path)
	r.removes[path] = struct{}{}
}

// FlushStats is the four-list outcome of one Flush, either globally or
// per-tree.
type FlushStats struct {
	Added     []string
	Updated   []string
	Unchanged []string
	Removed   []string
}

// Flush applies every pending operation across every registered tree
// atomically: phase 1 removals, phase 2 upserts grouped by parent
// directory, phase 3 bottom-up ancestor rehash (spec §4.2). If any resource
// fetch fails, the whole flush aborts with no tree mutated (spec §4.3, §7).
func (r *TreeRegistry) Flush(ctx context.Context) (FlushStats, map[*SharedHashTree]*FlushStats, error) {
	r.mu.Lock()
	removes := make([]string, 0, len(r.removes))
	for p := range r.removes {
		removes = append(removes, p)
	}
	upsertPaths := make([]string, 0, len(r.upserts))
	pending := make(map[string]pendingUpsert, len(r.upserts))
	for p, u := range r.upserts {
		upsertPaths = append(upsertPaths, p)
		pending[p] = u
	}
	trees := make([]*SharedHashTree, 0, len(r.trees))
	for t := range r.trees {
		trees = append(trees, t)
	}
	r.mu.Unlock()

	sort.Strings(removes)
	sort.Strings(upsertPaths)

	resolved, err := r.resolveUpserts(ctx, upsertPaths, pending)
	if err != nil {
		return FlushStats{}, nil, err
	}

	global := FlushStats{}
	perTree := make(map[*SharedHashTree]*FlushStats, len(trees))

	// Phase 1: removals.
	for _, t := range trees {
		dirty := map[string]bool{}
		var removed []string
		for _, p := range removes {
			if t.tree.remove(p, dirty) {
				removed = append(removed, p)
			}
		}
		t.tree.pruneEmpty()
		t.dirtyDirs(dirty)
		st := perTree[t]
		if st == nil {
			st = &FlushStats{}
			perTree[t] = st
		}
		st.Removed = append(st.Removed, removed...)
	}
	global.Removed = append(global.Removed, removes...)

	// Phase 2: upserts, grouped by parent directory (sorted path order
	// already groups by parent for a prefix-free namespace).
	var newTimestamp time.Time
	for _, u := range pending {
		if u.timestamp.After(newTimestamp) {
			newTimestamp = u.timestamp
		}
	}

	addedSeen, updatedSeen, unchangedSeen := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, t := range trees {
		dirty := map[string]bool{}
		st := perTree[t]
		if st == nil {
			st = &FlushStats{}
			perTree[t] = st
		}
		for _, p := range upsertPaths {
			m := resolved[p]
			existing, ok := t.tree.GetResourceByPath(p)
			switch {
			case !ok:
				if err := t.tree.insert(m, dirty); err != nil {
					return FlushStats{}, nil, err
				}
				st.Added = append(st.Added, p)
				addedSeen[p] = true
			case Unchanged(existing, m, t.tree.indexTimestamp):
				st.Unchanged = append(st.Unchanged, p)
				unchangedSeen[p] = true
			default:
				if err := t.tree.insert(m, dirty); err != nil {
					return FlushStats{}, nil, err
				}
				st.Updated = append(st.Updated, p)
				updatedSeen[p] = true
			}
		}
		t.dirtyDirs(dirty)
		if !newTimestamp.IsZero() {
			t.tree.indexTimestamp = newTimestamp
		}
	}
	for _, p := range upsertPaths {
		switch {
		case addedSeen[p]:
			global.Added = append(global.Added, p)
		case updatedSeen[p]:
			global.Updated = append(global.Updated, p)
		case unchangedSeen[p]:
			global.Unchanged = append(global.Unchanged, p)
		}
	}

	// Phase 3: ancestor rehash, deepest first, per tree.
	for _, t := range trees {
		t.rehashDirtySet()
	}

	r.mu.Lock()
	for _, p := range removes {
		delete(r.removes, p)
	}
	for _, p := range upsertPaths {
		delete(r.upserts, p)
	}
	r.mu.Unlock()

	return global, perTree, nil
}

// resolveUpserts fans out metadata resolution for every pending upsert
// path, bounded to avoid unbounded goroutine growth when a batch is large
// (spec §5: bounded fan-out of independent read/hash operations).
func (r *TreeRegistry) resolveUpserts(ctx context.Context, paths []string, pending map[string]pendingUpsert) (map[string]resource.Metadata, error) {
	out := make(map[string]resource.Metadata, len(paths))
	if r.fetch == nil {
		for _, p := range paths {
			out[p] = pending[p].meta
		}
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			m, ok, err := r.fetch(gctx, p)
			if err != nil {
				return err
			}
			if !ok {
				return ErrResourceUnavailable
			}
			mu.Lock()
			out[p] = m
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// dirtyDirs marks the ancestor chain of every path in dirty on t, to be
// rehashed in rehashDirtySet.
func (t *SharedHashTree) dirtyDirs(dirty map[string]bool) {
	if t.pendingDirty == nil {
		t.pendingDirty = map[string]bool{}
	}
	for p := range dirty {
		segs := splitPath(p)
		for _, a := range ancestorPaths(segs) {
			t.pendingDirty[a] = true
		}
	}
	t.pendingDirty[""] = true
}

// rehashDirtySet recomputes every path queued by dirtyDirs, deepest first,
// then clears the queue. The new index timestamp is stamped by Flush.
func (t *SharedHashTree) rehashDirtySet() {
	if len(t.pendingDirty) == 0 {
		return
	}
	paths := make([]string, 0, len(t.pendingDirty))
	for p := range t.pendingDirty {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		return len(splitPath(paths[i])) > len(splitPath(paths[j]))
	})
	for _, p := range paths {
		n := t.tree.dirAt(p)
		if n != nil {
			n.invalidate()
			n.Hash()
		}
	}
	t.pendingDirty = nil
}
