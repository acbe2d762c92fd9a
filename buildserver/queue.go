// Package buildserver implements the Build Server & Watcher (spec §4.9 /
// component 11): lazy, coalesced builds behind three BuildReader views,
// plus a source watcher that invalidates affected projects on change.
//
// The per-project build queue is grounded on golang.org/x/sync/singleflight
// (SPEC_FULL §4.9) for collapsing concurrent requests for the *same*
// project, composed with a small pending-set processor — mirrored on the
// teacher's own single-flight-shaped ref-advertisement fetch in
// remote.go's fetchPack, generalised to batch several distinct projects
// into one underlying Builder.Build call.
package buildserver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nimbusui/buildcache/buildctx"
)

// batchQueue drains a pending-project set into single Builder.Build calls,
// at most one batch active at a time (spec §4.9).
type batchQueue struct {
	builder    *buildctx.Builder
	newRequest func(names []string) buildctx.Request

	group singleflight.Group

	mu      sync.Mutex
	pending map[string]bool
	tracked map[string]bool // every project ever requested through this queue
	waiters map[string][]chan struct{}
	results map[string]buildctx.ProjectResult
	active  bool
}

func newBatchQueue(builder *buildctx.Builder, newRequest func(names []string) buildctx.Request) *batchQueue {
	return &batchQueue{
		builder:    builder,
		newRequest: newRequest,
		pending:    map[string]bool{},
		tracked:    map[string]bool{},
		waiters:    map[string][]chan struct{}{},
		results:    map[string]buildctx.ProjectResult{},
	}
}

// EnsureBuilt registers name as wanted and blocks until a batch covering it
// resolves, returning that project's result. Concurrent callers for the
// same name collapse onto one singleflight.Do call; concurrent callers for
// different names each register independently but the processor folds
// whatever is pending into one Builder.Build call.
func (q *batchQueue) EnsureBuilt(ctx context.Context, name string) (buildctx.ProjectResult, error) {
	v, err, _ := q.group.Do(name, func() (any, error) {
		done := q.enqueue(name)
		select {
		case <-done:
		case <-ctx.Done():
			return buildctx.ProjectResult{}, ctx.Err()
		}
		q.mu.Lock()
		res := q.results[name]
		q.mu.Unlock()
		return res, res.Err
	})
	if err != nil {
		return buildctx.ProjectResult{}, err
	}
	return v.(buildctx.ProjectResult), nil
}

// enqueue adds name to the pending set and returns a channel closed once
// the batch that builds it resolves, kicking the processor if it is idle.
func (q *batchQueue) enqueue(name string) <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan struct{})
	q.pending[name] = true
	q.tracked[name] = true
	q.waiters[name] = append(q.waiters[name], ch)
	if !q.active {
		q.active = true
		go q.process()
	}
	return ch
}

// Invalidate re-enqueues name if it was already tracked by this queue (spec
// §4.9: "if any such project was already in the build queue, re-adds it to
// the pending set"). A project never requested through EnsureBuilt is left
// alone — nothing is waiting on it.
func (q *batchQueue) Invalidate(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.tracked[name] {
		return
	}
	q.pending[name] = true
	if !q.active {
		q.active = true
		go q.process()
	}
}

// IsTracked reports whether name has ever been requested through
// EnsureBuilt.
func (q *batchQueue) IsTracked(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tracked[name]
}

func (q *batchQueue) process() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.active = false
			q.mu.Unlock()
			return
		}
		names := make([]string, 0, len(q.pending))
		for n := range q.pending {
			names = append(names, n)
		}
		sort.Strings(names)
		q.pending = map[string]bool{}
		q.mu.Unlock()

		result, buildErr := q.builder.Build(context.Background(), q.newRequest(names))

		q.mu.Lock()
		for _, n := range names {
			pr := resultFor(result, buildErr, n)
			q.results[n] = pr
			for _, ch := range q.waiters[n] {
				close(ch)
			}
			delete(q.waiters, n)
		}
		q.mu.Unlock()
	}
}

func resultFor(result *buildctx.Result, buildErr error, name string) buildctx.ProjectResult {
	if result != nil {
		if pr, ok := result.Projects[name]; ok {
			return pr
		}
	}
	if buildErr != nil {
		return buildctx.ProjectResult{Err: buildErr}
	}
	return buildctx.ProjectResult{Err: fmt.Errorf("buildserver: project %q was not built", name)}
}
