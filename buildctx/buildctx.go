// Package buildctx implements the Build Context / Builder (spec §4.7
// "cross-project propagation", component 10 of the overview table): it
// drives one or more ProjectBuildCaches through a build in dependency
// order, composing each project's task list via taskrunner and delivering
// a finished project's changed output paths to every dependent project
// still held in memory.
//
// Grounded on the teacher's Repository.Fetch/Clone orchestration shape
// (repository.go): a single entry point that resolves options, walks a
// graph of related objects, and surfaces one aggregate error.
package buildctx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nimbusui/buildcache/castore"
	"github.com/nimbusui/buildcache/projectcache"
	"github.com/nimbusui/buildcache/resource"
	"github.com/nimbusui/buildcache/taskrunner"
)

// DependencyGraph is the contract a Builder consumes (spec §6): iteration
// over projects, per-project identity/type/custom-task/middleware queries,
// dependency listing, and the reader a project's sources are resolved
// through. The graph is read-only to the builder.
type DependencyGraph interface {
	Projects() []string
	Dependencies(name string) []string
	Namespace(name string) string
	ID(name string) string
	Version(name string) string
	Type(name string) taskrunner.ProjectType
	CustomTasks(name string) []taskrunner.CustomTask
	Middleware(name string) []string
	DependencyIdentities(name string) []projectcache.VersionedIdentity
	ExtensionIdentities(name string) []projectcache.VersionedIdentity
	Reader(name string) resource.Reader
}

// CacheMode mirrors the CLI's --cache-mode flag (SPEC_FULL §6).
type CacheMode string

const (
	CacheDefault  CacheMode = "default"
	CacheForce    CacheMode = "force"  // ignore any persisted manifest
	CacheReadOnly CacheMode = "readonly" // never persist a new manifest
	CacheOff      CacheMode = "off"     // neither load nor persist
)

// TaskBody resolves the concrete implementation of one task for one
// project; concrete tasks (minifier, bundler, theme compiler, ...) are
// external collaborators the builder never names directly (spec §1).
type TaskBody func(projectName string, def taskrunner.TaskDef) taskrunner.TaskBody

// ProjectInputs supplies each project's build-configuration value and
// (optionally) its lockfile hash, both folded into its build signature.
type ProjectInputs struct {
	BuildConfig       any
	ToolchainVersions []string
	LockfileHash      string
}

// Request describes one Build call: the set of projects to build, and
// whether their dependencies should be built first if not already fresh.
type Request struct {
	Projects            []string
	IncludeDependencies bool
	Mode                CacheMode
	Inputs              map[string]ProjectInputs
	Body                TaskBody
}

// ProjectResult is one project's outcome within a Build call.
type ProjectResult struct {
	Signature      string
	CompletedTasks []string
	Err            error
}

// Result is the aggregate outcome of one Build call.
type Result struct {
	// RunID identifies this Build call for log correlation — every
	// per-task log line emitted while it runs carries it, so a single
	// invocation's lines can be grepped out of an interleaved,
	// concurrently-watched server log (spec §4.9's coalesced batches run
	// many projects' task lists under one Build call).
	RunID    string
	Projects map[string]ProjectResult
}

// Builder is a long-lived orchestrator over one DependencyGraph and
// content-addressed store: it keeps every project's ProjectBuildCache
// alive across Build calls, so cross-project propagation (spec §4.7)
// reaches a dependent even when it isn't part of the current batch.
type Builder struct {
	graph    DependencyGraph
	store    castore.Store
	useDiff  bool
	log      *logrus.Entry
	caches   map[string]*projectcache.Cache
	dependents map[string][]string // reverse edges over the whole graph
}

// New returns a Builder over graph and store. useDifferentialUpdate is
// forwarded to every ProjectBuildCache/BuildTaskCache this builder creates
// or loads.
func New(graph DependencyGraph, store castore.Store, useDifferentialUpdate bool, log *logrus.Entry) *Builder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &Builder{
		graph:   graph,
		store:   store,
		useDiff: useDifferentialUpdate,
		log:     log,
		caches:  map[string]*projectcache.Cache{},
	}
	b.dependents = reverseEdges(graph)
	return b
}

func reverseEdges(graph DependencyGraph) map[string][]string {
	out := map[string][]string{}
	for _, name := range graph.Projects() {
		for _, dep := range graph.Dependencies(name) {
			out[dep] = append(out[dep], name)
		}
	}
	return out
}

// Build runs req, returning one ProjectResult per project actually built.
// Projects are built in dependency order (a project's direct dependencies,
// when included, always complete — successfully or not — before it does);
// a project blocked by a failed dependency is reported with an error of
// its own and never reaches the Task Runner.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	order, err := b.buildOrder(req.Projects, req.IncludeDependencies)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runLog := b.log.WithField("build_run", runID)

	result := &Result{RunID: runID, Projects: map[string]ProjectResult{}}
	blocked := map[string]error{}

	for _, name := range order {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if failedDep, err := firstFailedDependency(b.graph.Dependencies(name), blocked); err != nil {
			blockedErr := fmt.Errorf("buildctx: blocked by failed dependency %q: %w", failedDep, err)
			blocked[name] = blockedErr
			result.Projects[name] = ProjectResult{Err: blockedErr}
			continue
		}

		pr := b.buildOneWithLog(ctx, runLog, name, req)
		result.Projects[name] = pr
		if pr.Err != nil {
			blocked[name] = pr.Err
		}
	}

	return result, nil
}

func firstFailedDependency(deps []string, blocked map[string]error) (string, error) {
	for _, d := range deps {
		if err, ok := blocked[d]; ok {
			return d, err
		}
	}
	return "", nil
}

func (b *Builder) buildOneWithLog(ctx context.Context, log *logrus.Entry, name string, req Request) ProjectResult {
	entry := log.WithField("project", name)
	inputs := req.Inputs[name]

	cfgJSON, err := json.Marshal(inputs.BuildConfig)
	if err != nil {
		return ProjectResult{Err: fmt.Errorf("buildctx: marshal build config for %q: %w", name, err)}
	}

	sig, err := projectcache.ComputeSignature(projectcache.SignatureInput{
		ProjectID:      b.graph.ID(name),
		ProjectVersion: b.graph.Version(name),
		BuildConfig:    inputs.BuildConfig,
		Dependencies:   b.graph.DependencyIdentities(name),
		Extensions:     b.graph.ExtensionIdentities(name),
		ToolVersions:   inputs.ToolchainVersions,
		LockfileHash:   inputs.LockfileHash,
	})
	if err != nil {
		return ProjectResult{Err: err}
	}

	cache, err := b.projectCache(ctx, name, sig, req.Mode, inputs.ToolchainVersions, cfgJSON)
	if err != nil {
		return ProjectResult{Signature: sig, Err: err}
	}

	tasks, err := taskrunner.ComposeTaskList(b.graph.Type(name), b.graph.CustomTasks(name))
	if err != nil {
		return ProjectResult{Signature: sig, Err: err}
	}

	projectReader := b.graph.Reader(name)
	depReader := combinedDependencyReader(b.graph, name)

	body := func(ctx context.Context, def taskrunner.TaskDef, projectReader, depReader resource.Reader, info *projectcache.CacheInfo) ([]byte, bool, error) {
		return req.Body(name, def)(ctx, def, projectReader, depReader, info)
	}

	runner := taskrunner.New(name, tasks, cache, projectReader, depReader, body, entry)
	completed, err := runner.Run(ctx)
	if err != nil {
		return ProjectResult{Signature: sig, CompletedTasks: completed, Err: err}
	}

	if req.Mode != CacheReadOnly && req.Mode != CacheOff {
		if err := cache.Persist(ctx); err != nil {
			return ProjectResult{Signature: sig, CompletedTasks: completed, Err: err}
		}
	}

	b.propagate(name, cache.AllTasksCompleted())

	return ProjectResult{Signature: sig, CompletedTasks: completed}
}

func (b *Builder) projectCache(ctx context.Context, name, sig string, mode CacheMode, toolVersions []string, cfgJSON []byte) (*projectcache.Cache, error) {
	if mode == CacheOff || mode == CacheForce {
		cache := projectcache.New(name, sig, b.store, toolVersions, cfgJSON)
		b.caches[name] = cache
		return cache, nil
	}

	if cache, ok := b.caches[name]; ok && cache.Signature() == sig {
		return cache, nil
	}

	cache, err := projectcache.Load(ctx, name, sig, b.store, b.useDiff)
	if err != nil {
		return nil, err
	}
	b.caches[name] = cache
	return cache, nil
}

// AffectedProjects returns names plus every project transitively dependent
// on any of them, via the reverse dependency edges computed at
// construction — the "transitively affected projects" a source watcher
// asks for before invalidating (spec §4.9).
func (b *Builder) AffectedProjects(names []string) []string {
	seen := map[string]bool{}
	var out []string

	var walk func(string)
	walk = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
		for _, dependent := range b.dependents[n] {
			walk(dependent)
		}
	}
	for _, n := range names {
		walk(n)
	}

	sort.Strings(out)
	return out
}

// propagate delivers changedPaths to every project's cache that depends on
// name, whether or not it is part of the current Build call (spec §4.7).
func (b *Builder) propagate(name string, changedPaths []string) {
	if len(changedPaths) == 0 {
		return
	}
	for _, dependent := range b.dependents[name] {
		if cache, ok := b.caches[dependent]; ok {
			cache.DependencyResourcesChanged(changedPaths)
		}
	}
}

// buildOrder returns projects in an order where every project appears
// after all of its transitive dependencies, restricted to the requested
// roots (plus their transitive dependencies, when IncludeDependencies).
func (b *Builder) buildOrder(roots []string, includeDeps bool) ([]string, error) {
	set := map[string]bool{}
	for _, r := range roots {
		set[r] = true
		if includeDeps {
			for _, d := range transitiveDependencies(b.graph, r) {
				set[d] = true
			}
		}
	}

	var order []string
	visited := map[string]bool{}
	visiting := map[string]bool{}

	var visit func(string) error
	visit = func(n string) error {
		if visited[n] {
			return nil
		}
		if visiting[n] {
			return fmt.Errorf("buildctx: dependency cycle detected at %q", n)
		}
		visiting[n] = true
		for _, dep := range b.graph.Dependencies(n) {
			if !set[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[n] = false
		visited[n] = true
		order = append(order, n)
		return nil
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names) // deterministic traversal order before the dependency sort

	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func transitiveDependencies(graph DependencyGraph, name string) []string {
	visited := map[string]bool{name: true}
	var out []string
	var walk func(string)
	walk = func(n string) {
		for _, dep := range graph.Dependencies(n) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			out = append(out, dep)
			walk(dep)
		}
	}
	walk(name)
	return out
}

// combinedDependencyReader returns a single reader over every direct
// dependency's namespace, the "dependencies-only" view one project's tasks
// see (SPEC_FULL §6's BuildReader shape, scoped to one project's direct
// deps rather than the whole graph).
func combinedDependencyReader(graph DependencyGraph, name string) resource.Reader {
	deps := graph.Dependencies(name)
	if len(deps) == 0 {
		return nil
	}
	readers := make([]resource.Reader, 0, len(deps))
	for _, d := range deps {
		if r := graph.Reader(d); r != nil {
			readers = append(readers, r)
		}
	}
	if len(readers) == 0 {
		return nil
	}
	return multiReader(readers)
}
