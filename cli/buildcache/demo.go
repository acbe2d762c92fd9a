// demo.go wires the reference DependencyGraph and TaskBody this binary
// ships with: a production integration supplies its own dependency-graph
// product and concrete bundler/minifier/theme-compiler tasks (spec's
// Non-goals), so the CLI instead treats each positional argument as an
// independent project rooted at a real directory, and runs a task body
// that only reads its resources — enough to exercise every cache layer
// without pretending to be a bundler.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/nimbusui/buildcache/buildctx"
	"github.com/nimbusui/buildcache/internal/depgraph"
	"github.com/nimbusui/buildcache/internal/memreader"
	"github.com/nimbusui/buildcache/projectcache"
	"github.com/nimbusui/buildcache/resource"
	"github.com/nimbusui/buildcache/taskrunner"
)

// buildGraph treats every directory in dirs as an independent project
// (project name = its base name), with no declared dependencies between
// them and no custom tasks — the simplest graph that still exercises the
// full standard task list for an "application" project.
func buildGraph(dirs []string) (*depgraph.Graph, []string, error) {
	g := depgraph.New()
	names := make([]string, 0, len(dirs))

	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("buildcache: resolve %q: %w", dir, err)
		}
		name := filepath.Base(abs)

		g.Add(depgraph.Project{
			Name:      name,
			Namespace: name,
			ID:        name,
			Version:   "local",
			Type:      taskrunner.Application,
			Reader:    memreader.NewFromFilesystem(osfs.New(abs)),
		})
		names = append(names, name)
	}

	return g, names, nil
}

// manifestBody is the demo TaskBody: it globs every project resource, and
// records the sorted set of paths each task observed, so a build's output
// is reproducible and inspectable without requiring a real compiler.
func manifestBody(projectName string, def taskrunner.TaskDef) taskrunner.TaskBody {
	return func(ctx context.Context, def taskrunner.TaskDef, projectReader, depReader resource.Reader, info *projectcache.CacheInfo) ([]byte, bool, error) {
		var paths []string

		if projectReader != nil {
			matches, err := projectReader.ByGlob(ctx, []string{"**/*"})
			if err != nil {
				return nil, false, err
			}
			for _, m := range matches {
				paths = append(paths, m.Path())
			}
		}
		if depReader != nil {
			matches, err := depReader.ByGlob(ctx, []string{"**/*"})
			if err != nil {
				return nil, false, err
			}
			for _, m := range matches {
				paths = append(paths, m.Path())
			}
		}
		sort.Strings(paths)

		out, err := json.Marshal(struct {
			Task    string   `json:"task"`
			Project string   `json:"project"`
			Paths   []string `json:"paths"`
		}{Task: def.Name, Project: projectName, Paths: paths})
		if err != nil {
			return nil, false, err
		}
		return out, false, nil
	}
}

// newDemoRequest builds the buildctx.Request for one batch of project
// names, using the given cache mode and the manifest demo task body for
// every project.
func newDemoRequest(mode buildctx.CacheMode, names []string) buildctx.Request {
	inputs := make(map[string]buildctx.ProjectInputs, len(names))
	for _, n := range names {
		inputs[n] = buildctx.ProjectInputs{}
	}
	return buildctx.Request{
		Projects:            names,
		IncludeDependencies: true,
		Mode:                mode,
		Inputs:              inputs,
		Body:                manifestBody,
	}
}
