// Package depgraph is a reference, in-memory DependencyGraph (spec §6):
// enough of a project dependency graph to drive buildctx and buildserver
// tests against, not a dependency-resolution product (spec's explicit
// Non-goals). Grounded on go-git's in-memory remote/reference bookkeeping
// (config.RemoteConfig, plumbing.ReferenceName lookups by name) in shape
// only — the domain here is project names, not refs.
package depgraph

import (
	"sort"

	"github.com/nimbusui/buildcache/projectcache"
	"github.com/nimbusui/buildcache/resource"
	"github.com/nimbusui/buildcache/taskrunner"
)

// Project is one node of the graph: everything a ProjectBuildCache or Task
// Runner needs to know about a project besides its source tree (spec §6
// "per-project queries: namespace, id, version, type, custom tasks list,
// custom middleware list, extension lookup").
type Project struct {
	Name         string
	Namespace    string
	ID           string
	Version      string
	Type         taskrunner.ProjectType
	Dependencies []string // direct dependency project names
	CustomTasks  []taskrunner.CustomTask
	Middleware   []string
	Extensions   []Extension
	Reader       resource.Reader
}

// Extension names one custom extension a project declares, carrying the
// identity/version pair the build signature folds in (spec §3).
type Extension struct {
	Name    string
	ID      string
	Version string
}

// Graph is a read-only, in-memory DependencyGraph (spec §6: "The graph is
// read-only to the cache").
type Graph struct {
	projects map[string]Project
	order    []string // insertion order, for deterministic iteration
}

// New returns an empty Graph; use Add to populate it before use.
func New() *Graph {
	return &Graph{projects: map[string]Project{}}
}

// Add registers p, keyed by p.Name. Re-adding an existing name replaces it
// in place without disturbing iteration order.
func (g *Graph) Add(p Project) {
	if _, exists := g.projects[p.Name]; !exists {
		g.order = append(g.order, p.Name)
	}
	g.projects[p.Name] = p
}

// Projects returns every project name, in the order they were Added.
func (g *Graph) Projects() []string {
	return append([]string(nil), g.order...)
}

// Lookup returns the project named name, if any.
func (g *Graph) Lookup(name string) (Project, bool) {
	p, ok := g.projects[name]
	return p, ok
}

// Dependencies returns the direct dependency names declared by name.
func (g *Graph) Dependencies(name string) []string {
	p, ok := g.projects[name]
	if !ok {
		return nil
	}
	return append([]string(nil), p.Dependencies...)
}

// TransitiveDependencies returns every project name reachable from name by
// following Dependencies edges, excluding name itself, sorted and
// deduplicated. A cycle is tolerated — visited tracks names already
// expanded, so a project referencing an ancestor simply contributes no new
// names the second time it's reached.
func (g *Graph) TransitiveDependencies(name string) []string {
	visited := map[string]bool{name: true}
	var out []string

	var walk func(string)
	walk = func(n string) {
		for _, dep := range g.Dependencies(n) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			out = append(out, dep)
			walk(dep)
		}
	}
	walk(name)

	sort.Strings(out)
	return out
}

// Namespace, ID, Version, Type, CustomTasks, Middleware, and Extensions
// below implement the remaining per-project queries spec §6 names. Each
// returns the zero value for an unknown project name; callers are expected
// to have validated the name against Projects()/Lookup first.

func (g *Graph) Namespace(name string) string { return g.projects[name].Namespace }
func (g *Graph) ID(name string) string        { return g.projects[name].ID }
func (g *Graph) Version(name string) string   { return g.projects[name].Version }

func (g *Graph) Type(name string) taskrunner.ProjectType { return g.projects[name].Type }

func (g *Graph) CustomTasks(name string) []taskrunner.CustomTask {
	return append([]taskrunner.CustomTask(nil), g.projects[name].CustomTasks...)
}

func (g *Graph) Middleware(name string) []string {
	return append([]string(nil), g.projects[name].Middleware...)
}

// Extension looks up a named custom extension declared by name, the
// "extension lookup" query spec §6 names.
func (g *Graph) Extension(projectName, extensionName string) (Extension, bool) {
	for _, e := range g.projects[projectName].Extensions {
		if e.Name == extensionName {
			return e, true
		}
	}
	return Extension{}, false
}

// Reader returns the virtual filesystem reader a project's sources are
// resolved through.
func (g *Graph) Reader(name string) resource.Reader { return g.projects[name].Reader }

// DependencyIdentities returns the (id, version) pair of every direct
// dependency of name, the shape the build signature folds in (spec §3
// "ordered project-dependency identities and versions").
func (g *Graph) DependencyIdentities(name string) []projectcache.VersionedIdentity {
	deps := g.Dependencies(name)
	out := make([]projectcache.VersionedIdentity, 0, len(deps))
	for _, dep := range deps {
		out = append(out, projectcache.VersionedIdentity{ID: g.ID(dep), Version: g.Version(dep)})
	}
	return out
}

// ExtensionIdentities returns the (id, version) pair of every custom
// extension name declares (spec §3 "ordered custom-extension identities
// and versions").
func (g *Graph) ExtensionIdentities(name string) []projectcache.VersionedIdentity {
	exts := g.projects[name].Extensions
	out := make([]projectcache.VersionedIdentity, 0, len(exts))
	for _, e := range exts {
		out = append(out, projectcache.VersionedIdentity{ID: e.ID, Version: e.Version})
	}
	return out
}
