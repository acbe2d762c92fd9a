package buildserver

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nimbusui/buildcache/buildctx"
)

// debounceWindow is the ~100ms coalescing window spec §4.9 names for
// grouping a burst of filesystem events into one invalidation pass.
const debounceWindow = 100 * time.Millisecond

// Event is emitted on the Watcher's event channel. Exactly one of
// SourcesChanged, BuildFinished, or Err is meaningful per event, mirroring
// the three named events of spec §4.9 (sourcesChanged, buildFinished,
// error).
type Event struct {
	SourcesChanged []string
	BuildFinished  bool
	Err            error
}

// Watcher subscribes to every project's source directory, debounces
// fsnotify events, and invalidates the transitively affected projects in
// the Server it's attached to (spec §4.9).
type Watcher struct {
	graph   buildctx.DependencyGraph
	server  *Server
	builder *buildctx.Builder
	fsw     *fsnotify.Watcher
	events  chan Event
	log     *logrus.Entry

	mu      sync.Mutex
	changed map[string]bool
	timer   *time.Timer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWatcher starts watching every directory named in roots (project name
// -> real filesystem directory to subscribe fsnotify to). The fsnotify
// event path is translated back to a virtual path by the caller before it
// reaches recordChange in a production wiring; this reference
// implementation assumes fsnotify's reported path already is the virtual
// path, matching how the in-memory reference Reader addresses resources.
func NewWatcher(graph buildctx.DependencyGraph, server *Server, builder *buildctx.Builder, roots map[string]string, log *logrus.Entry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	for _, dir := range roots {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{
		graph:   graph,
		server:  server,
		builder: builder,
		fsw:     fsw,
		events:  make(chan Event, 16),
		log:     log,
		changed: map[string]bool{},
		closed:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Events returns the channel sourcesChanged/buildFinished/error events are
// delivered on.
func (w *Watcher) Events() <-chan Event { return w.events }

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.recordChange(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.emit(Event{Err: err})
		case <-w.closed:
			return
		}
	}
}

func (w *Watcher) recordChange(path string) {
	w.mu.Lock()
	w.changed[path] = true
	if w.timer == nil {
		w.timer = time.AfterFunc(debounceWindow, w.flush)
	} else {
		w.timer.Reset(debounceWindow)
	}
	w.mu.Unlock()
}

// flush runs once the debounce window elapses with no further events: it
// maps every changed path to its owning project, asks the builder for the
// transitively affected set, invalidates them in the server, and waits for
// any project that was actually rebuilt before emitting buildFinished.
func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.changed))
	for p := range w.changed {
		paths = append(paths, p)
	}
	w.changed = map[string]bool{}
	w.timer = nil
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}

	// batchID correlates this debounce window's log lines with the
	// Build.RunID of whatever rebuild it triggers, the way uuid-tagged
	// Build calls do for a directly-requested build (buildctx.Build).
	batchID := uuid.NewString()
	batchLog := w.log.WithField("watch_batch", batchID)
	batchLog.WithField("changed_paths", len(paths)).Debug("debounce window elapsed")

	directly := map[string]bool{}
	for _, p := range paths {
		if name, ok := routeByNamespace(w.graph, w.graph.Projects(), p); ok {
			directly[name] = true
		}
	}
	names := make([]string, 0, len(directly))
	for n := range directly {
		names = append(names, n)
	}

	affected := w.builder.AffectedProjects(names)
	batchLog.WithField("affected_projects", affected).Info("invalidating affected projects")
	w.server.Invalidate(affected)

	w.emit(Event{SourcesChanged: paths})
	go w.waitForCompletion(affected)
}

func (w *Watcher) waitForCompletion(affected []string) {
	for _, name := range affected {
		if !w.server.queue.IsTracked(name) {
			continue // nobody has ever requested this project; Invalidate left it alone
		}
		if _, err := w.server.queue.EnsureBuilt(context.Background(), name); err != nil {
			w.emit(Event{Err: err})
		}
	}
	w.emit(Event{BuildFinished: true})
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.closed:
	}
}

// Close tears down the underlying fsnotify subscription and awaits its
// shutdown (spec §5: "Watcher tear-down cancels the ... subscriptions and
// awaits their close").
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return w.fsw.Close()
}
