package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusui/buildcache/taskrunner"
)

func TestGraphProjectsPreservesInsertionOrder(t *testing.T) {
	g := New()
	g.Add(Project{Name: "c"})
	g.Add(Project{Name: "a"})
	g.Add(Project{Name: "b"})

	assert.Equal(t, []string{"c", "a", "b"}, g.Projects())
}

func TestGraphAddReplacesInPlace(t *testing.T) {
	g := New()
	g.Add(Project{Name: "a", Version: "1"})
	g.Add(Project{Name: "b"})
	g.Add(Project{Name: "a", Version: "2"})

	assert.Equal(t, []string{"a", "b"}, g.Projects())
	p, ok := g.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "2", p.Version)
}

func TestGraphDependenciesUnknownName(t *testing.T) {
	g := New()
	assert.Nil(t, g.Dependencies("missing"))
}

func TestGraphTransitiveDependencies(t *testing.T) {
	g := New()
	g.Add(Project{Name: "app", Dependencies: []string{"lib-a", "lib-b"}})
	g.Add(Project{Name: "lib-a", Dependencies: []string{"lib-c"}})
	g.Add(Project{Name: "lib-b", Dependencies: []string{"lib-c"}})
	g.Add(Project{Name: "lib-c"})

	assert.Equal(t, []string{"lib-a", "lib-b", "lib-c"}, g.TransitiveDependencies("app"))
}

func TestGraphTransitiveDependenciesToleratesCycle(t *testing.T) {
	g := New()
	g.Add(Project{Name: "a", Dependencies: []string{"b"}})
	g.Add(Project{Name: "b", Dependencies: []string{"a"}})

	assert.Equal(t, []string{"b"}, g.TransitiveDependencies("a"))
}

func TestGraphAccessorsReturnZeroValueForUnknownProject(t *testing.T) {
	g := New()
	assert.Equal(t, "", g.Namespace("missing"))
	assert.Equal(t, "", g.ID("missing"))
	assert.Equal(t, "", g.Version("missing"))
	assert.Equal(t, taskrunner.ProjectType(""), g.Type("missing"))
	assert.Nil(t, g.CustomTasks("missing"))
	assert.Nil(t, g.Middleware("missing"))
	assert.Nil(t, g.Reader("missing"))
}

func TestGraphExtensionLookup(t *testing.T) {
	g := New()
	g.Add(Project{Name: "app", Extensions: []Extension{{Name: "theme", ID: "theme-pkg", Version: "1.2.0"}}})

	ext, ok := g.Extension("app", "theme")
	require.True(t, ok)
	assert.Equal(t, "theme-pkg", ext.ID)
	assert.Equal(t, "1.2.0", ext.Version)

	_, ok = g.Extension("app", "missing")
	assert.False(t, ok)
}

func TestGraphDependencyIdentities(t *testing.T) {
	g := New()
	g.Add(Project{Name: "app", Dependencies: []string{"lib"}})
	g.Add(Project{Name: "lib", ID: "lib-id", Version: "3.0.0"})

	ids := g.DependencyIdentities("app")
	require.Len(t, ids, 1)
	assert.Equal(t, "lib-id", ids[0].ID)
	assert.Equal(t, "3.0.0", ids[0].Version)
}

func TestGraphExtensionIdentities(t *testing.T) {
	g := New()
	g.Add(Project{Name: "app", Extensions: []Extension{
		{Name: "theme", ID: "theme-pkg", Version: "1.0.0"},
		{Name: "lint", ID: "lint-pkg", Version: "2.0.0"},
	}})

	ids := g.ExtensionIdentities("app")
	require.Len(t, ids, 2)
	assert.Equal(t, "theme-pkg", ids[0].ID)
	assert.Equal(t, "lint-pkg", ids[1].ID)
}

func TestGraphMutationsDoNotAliasCallerSlices(t *testing.T) {
	g := New()
	g.Add(Project{Name: "app", Dependencies: []string{"lib"}})

	deps := g.Dependencies("app")
	deps[0] = "tampered"

	assert.Equal(t, []string{"lib"}, g.Dependencies("app"))
}
