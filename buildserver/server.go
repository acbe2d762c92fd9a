package buildserver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nimbusui/buildcache/buildctx"
	"github.com/nimbusui/buildcache/resource"
)

// Server is the lazy, coalescing Build Server (spec §4.9): it exposes
// three BuildReader views over a DependencyGraph, building each project on
// first access and reusing the result until a watcher invalidates it.
type Server struct {
	graph buildctx.DependencyGraph
	queue *batchQueue

	mu          sync.Mutex
	readerCache map[string]resource.Reader
}

// New returns a Server driving builder over graph. newRequest builds the
// buildctx.Request for one batch of project names — supplied by the
// caller so CacheMode, per-project build configs, and the TaskBody
// resolver stay the CLI/config layer's concern.
func New(graph buildctx.DependencyGraph, builder *buildctx.Builder, newRequest func(names []string) buildctx.Request) *Server {
	return &Server{
		graph:       graph,
		queue:       newBatchQueue(builder, newRequest),
		readerCache: map[string]resource.Reader{},
	}
}

// ensure blocks until name's most recent build resolves, returning the
// reader its sources are now served through.
func (s *Server) ensure(ctx context.Context, name string) (resource.Reader, error) {
	s.mu.Lock()
	if r, ok := s.readerCache[name]; ok {
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	if _, err := s.queue.EnsureBuilt(ctx, name); err != nil {
		return nil, err
	}

	r := s.graph.Reader(name)
	s.mu.Lock()
	s.readerCache[name] = r
	s.mu.Unlock()
	return r, nil
}

// Invalidate drops the cached reader for each named project and re-enqueues
// it if it was already tracked by the build queue — the watcher's hook
// into the server (spec §4.9).
func (s *Server) Invalidate(names []string) {
	s.mu.Lock()
	for _, n := range names {
		delete(s.readerCache, n)
	}
	s.mu.Unlock()

	for _, n := range names {
		s.queue.Invalidate(n)
	}
}

// AllProjects returns a BuildReader over every project in the graph.
func (s *Server) AllProjects() *BuildReader {
	return &BuildReader{server: s, projects: append([]string(nil), s.graph.Projects()...)}
}

// RootProjectOnly returns a BuildReader scoped to a single project's own
// namespace.
func (s *Server) RootProjectOnly(root string) *BuildReader {
	return &BuildReader{server: s, projects: []string{root}}
}

// DependenciesOnly returns a BuildReader scoped to root's direct
// dependencies.
func (s *Server) DependenciesOnly(root string) *BuildReader {
	return &BuildReader{server: s, projects: append([]string(nil), s.graph.Dependencies(root)...)}
}

// BuildReader is one of the server's three reader views (spec §4.9): it
// routes byPath to the project whose namespace longest-prefixes the path,
// falling back to searching every project in scope on a miss, and always
// combines the full scoped project set for byGlob.
type BuildReader struct {
	server   *Server
	projects []string
}

func (b *BuildReader) ByPath(ctx context.Context, path string) (resource.Resource, error) {
	if name, ok := routeByNamespace(b.server.graph, b.projects, path); ok {
		reader, err := b.server.ensure(ctx, name)
		if err != nil {
			return nil, err
		}
		if reader != nil {
			if res, err := reader.ByPath(ctx, path); err != nil || res != nil {
				return res, err
			}
		}
	}

	// Fall back to searching every project in scope.
	for _, name := range b.projects {
		reader, err := b.server.ensure(ctx, name)
		if err != nil {
			return nil, err
		}
		if reader == nil {
			continue
		}
		res, err := reader.ByPath(ctx, path)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

func (b *BuildReader) ByGlob(ctx context.Context, patterns []string) ([]resource.Resource, error) {
	var out []resource.Resource
	for _, name := range b.projects {
		reader, err := b.server.ensure(ctx, name)
		if err != nil {
			return nil, err
		}
		if reader == nil {
			continue
		}
		matches, err := reader.ByGlob(ctx, patterns)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

// routeByNamespace finds the project among projects whose namespace is the
// longest prefix of path (spec §4.9), shared by BuildReader and the
// watcher's changed-path-to-project mapping.
func routeByNamespace(graph buildctx.DependencyGraph, projects []string, path string) (string, bool) {
	type candidate struct {
		name string
		ns   string
	}
	var candidates []candidate
	for _, name := range projects {
		ns := graph.Namespace(name)
		if ns == "" {
			continue
		}
		if path == ns || strings.HasPrefix(path, ns+"/") {
			candidates = append(candidates, candidate{name: name, ns: ns})
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i].ns) > len(candidates[j].ns) })
	return candidates[0].name, true
}

var _ resource.Reader = (*BuildReader)(nil)
