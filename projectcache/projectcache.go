// Package projectcache implements ProjectBuildCache (spec §4.7): the
// per-project aggregate of every task's BuildTaskCache, the project's build
// signature, and the prepare/record protocol the Task Runner drives a build
// through.
//
// Grounded on go-git's storage/filesystem object key composition (the
// build signature plays the role of the pack/loose-object key space one
// level up) and on storage/memory for the no-persisted-state case.
package projectcache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/nimbusui/buildcache/castore"
	"github.com/nimbusui/buildcache/resource"
	"github.com/nimbusui/buildcache/taskcache"
)

// Manifest is the JSON document persisted per (project, buildSignature)
// (spec §6): the build signature itself, toolchain versions, the build
// configuration, the task execution order, and every task's cache object.
type Manifest struct {
	BuildSignature    string                          `json:"buildSignature"`
	ToolchainVersions []string                         `json:"toolchainVersions"`
	BuildConfig       json.RawMessage                  `json:"buildConfig"`
	TaskOrder         []string                         `json:"taskOrder"`
	Tasks             map[string]taskcache.CacheObjects `json:"tasks"`
}

// CacheInfo is returned by PrepareTaskExecutionAndValidateCache when a task
// must re-run but may opt into differential mode (spec §4.7): the set of
// resource paths that changed since the cached run, on each side.
type CacheInfo struct {
	ChangedProjectResourcePaths    []string
	ChangedDependencyResourcePaths []string
}

// Decision is the tri-state result of PrepareTaskExecutionAndValidateCache:
// exactly one of Skip or Info is meaningful; neither set means "full
// rerun", matching spec's `true | CacheInfo | false`.
type Decision struct {
	Skip bool
	Info *CacheInfo
}

// FullRerun reports whether d represents the "false" case: the task must
// run fully, with no differential information available.
func (d Decision) FullRerun() bool { return !d.Skip && d.Info == nil }

// Cache is one project's ProjectBuildCache.
type Cache struct {
	projectID string
	signature string
	store     castore.Store

	toolchainVersions []string
	buildConfig       json.RawMessage

	tasks map[string]*taskcache.Cache
	order []string

	fresh bool // a persisted manifest exists for this exact signature

	changedProjectPaths    []string
	changedDependencyPaths []string

	tags map[string]string
}

// New returns an empty project build cache: no persisted manifest exists
// (or the caller chose not to load one), so every task reports a full
// rerun until RecordTaskResult populates it.
func New(projectID, signature string, store castore.Store, toolchainVersions []string, buildConfig json.RawMessage) *Cache {
	return &Cache{
		projectID:         projectID,
		signature:         signature,
		store:             store,
		toolchainVersions: toolchainVersions,
		buildConfig:       buildConfig,
		tasks:             map[string]*taskcache.Cache{},
		tags:              map[string]string{},
	}
}

// Load fetches the persisted manifest for (projectID, signature) from
// store, if any, and restores every task's cache object, each task's
// project side and dependency side getting its own fresh TreeRegistry. A
// miss is not an error: it returns a fresh, empty Cache, since a
// build-config change legitimately starts from nothing (spec §3: the
// build signature is the top-level cache key — no signature match, no
// reuse at any task granularity).
func Load(ctx context.Context, projectID, signature string, store castore.Store, useDifferentialUpdate bool) (*Cache, error) {
	c := &Cache{
		projectID: projectID,
		signature: signature,
		store:     store,
		tasks:     map[string]*taskcache.Cache{},
		tags:      map[string]string{},
	}

	raw, err := store.Get(ctx, castore.ManifestKey(projectID, signature))
	if errors.Is(err, castore.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, &CorruptionError{ProjectID: projectID, Signature: signature, Err: err}
	}
	if manifest.BuildSignature != signature {
		return nil, &CorruptionError{ProjectID: projectID, Signature: signature, Err: errors.New("manifest signature mismatch")}
	}

	c.toolchainVersions = manifest.ToolchainVersions
	c.buildConfig = manifest.BuildConfig
	c.order = append([]string(nil), manifest.TaskOrder...)

	for _, name := range manifest.TaskOrder {
		obj, ok := manifest.Tasks[name]
		if !ok {
			return nil, &CorruptionError{ProjectID: projectID, Signature: signature, Err: errors.New("task order names an entry with no cache object: " + name)}
		}
		tc, err := taskcache.FromCache(obj, useDifferentialUpdate)
		if err != nil {
			return nil, &CorruptionError{ProjectID: projectID, Signature: signature, Err: err}
		}
		c.tasks[name] = tc
	}

	c.fresh = true
	return c, nil
}

// CorruptionError wraps a manifest that failed to parse or restore — spec
// §7's CacheCorruption taxonomy entry: fatal to this (project, signature)
// pair only, triggering a full rebuild.
type CorruptionError struct {
	ProjectID string
	Signature string
	Err       error
}

func (e *CorruptionError) Error() string {
	return "projectcache: corrupt cache for " + e.ProjectID + "@" + e.Signature + ": " + e.Err.Error()
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// IsFresh reports whether a persisted manifest was found for this exact
// build signature. When false, there is nothing to validate a task
// against and every task reports a full rerun.
func (c *Cache) IsFresh() bool { return c.fresh }

// Signature returns the build signature this Cache was constructed or
// loaded for, so a caller holding a Cache across builds can detect that
// the signature it needs has moved on and reload rather than keep using a
// stale one (spec §3: the build signature is the top-level cache key).
func (c *Cache) Signature() string { return c.signature }

// ProjectSourcesChanged records a batch of changed project-side virtual
// paths, to be applied to every task's project-side indices the next time
// Validate runs.
func (c *Cache) ProjectSourcesChanged(paths []string) {
	c.changedProjectPaths = append(c.changedProjectPaths, paths...)
}

// DependencyResourcesChanged records a batch of changed dependency-side
// virtual paths, delivered by a dependency project finishing its own
// build (spec §4.7 "cross-project propagation").
func (c *Cache) DependencyResourcesChanged(paths []string) {
	c.changedDependencyPaths = append(c.changedDependencyPaths, paths...)
}

// RefreshDependencyIndices performs the full dependency-side resync every
// task cache needs once per build (spec §4.6: dependencies may change
// independently of the project's own invalidation stream).
func (c *Cache) RefreshDependencyIndices(ctx context.Context, reader resource.Reader) error {
	for _, name := range c.order {
		if _, err := c.tasks[name].UpdateDependencyIndices(ctx, reader, nil); err != nil {
			return err
		}
	}
	return nil
}

// Validate applies the accumulated ProjectSourcesChanged batch to every
// existing task's project-side request manager exactly once, ahead of
// calling PrepareTaskExecutionAndValidateCache for any of them — applying
// it twice would double-count a delta. The Task Runner calls this once at
// build start, after RefreshDependencyIndices. A task with no pending
// changed paths is left untouched: its deltas (if any) were already
// populated by a previous Validate call this build.
func (c *Cache) Validate(ctx context.Context, projectReader resource.Reader) error {
	if len(c.changedProjectPaths) == 0 {
		return nil
	}
	for _, name := range c.order {
		if _, err := c.tasks[name].UpdateProjectIndices(ctx, projectReader, c.changedProjectPaths); err != nil {
			return err
		}
	}
	c.changedProjectPaths = nil
	return nil
}

// PrepareTaskExecutionAndValidateCache implements spec §4.7's three-way
// decision: a task with no persisted cache object always reports a full
// rerun; a task whose recorded request sets are still exactly satisfied by
// the current project+dependency state (its stage output still exists at
// its last [projectSig, depSig] key) may be skipped; otherwise, if neither
// side's change set touched a removal, the caller may run differentially.
func (c *Cache) PrepareTaskExecutionAndValidateCache(ctx context.Context, taskName string) (Decision, error) {
	tc, ok := c.tasks[taskName]
	if !ok {
		return Decision{}, nil
	}

	projSig, depSig := tc.LastSignatures()
	key := castore.StageKey(c.signature, taskName, projSig, depSig)
	_, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		return Decision{Skip: true}, nil
	case errors.Is(err, castore.ErrNotFound):
		// fall through to differential/full-rerun evaluation
	default:
		return Decision{}, err
	}

	projDeltas := tc.GetProjectIndexDeltas()
	depDeltas := tc.GetDependencyIndexDeltas()

	projDelta, hasProjDelta := projDeltas[projSig]
	depDelta, hasDepDelta := depDeltas[depSig]

	if !hasProjDelta && !hasDepDelta {
		return Decision{}, nil
	}

	info := &CacheInfo{}
	if hasProjDelta {
		info.ChangedProjectResourcePaths = projDelta.ChangedPaths
	}
	if hasDepDelta {
		info.ChangedDependencyResourcePaths = depDelta.ChangedPaths
	}
	return Decision{Info: info}, nil
}

// RecordTaskResult stores the outcome of actually running taskName: its
// freshly-recorded [projectSig, depSig] request sets, and — when the task
// produced output — the output bytes under the stage key so a future
// build can observe a cache hit. supportsDiff mirrors the task's own
// opt-in to differential builds (spec §4.7); when false, that task's
// managers never accumulate Delta entries regardless of what UpdateIndices
// observed.
func (c *Cache) RecordTaskResult(ctx context.Context, taskName string, projectReads resource.Recording, depReads *resource.Recording, projectReader, depReader resource.Reader, supportsDiff bool, output []byte) error {
	tc, ok := c.tasks[taskName]
	if !ok {
		tc = taskcache.New(supportsDiff)
		c.tasks[taskName] = tc
		c.order = append(c.order, taskName)
	}

	projSig, depSig, err := tc.RecordRequests(ctx, projectReads, depReads, projectReader, depReader)
	if err != nil {
		return err
	}

	if output != nil {
		key := castore.StageKey(c.signature, taskName, projSig, depSig)
		if err := c.store.Put(ctx, key, output); err != nil {
			return err
		}
	}
	return nil
}

// AllTasksCompleted returns the sorted union of the changed project paths
// recorded in the project-side index deltas of every task that has seen new
// or modified cache entries, for propagation to dependent projects'
// DependencyResourcesChanged (spec §4.7). Paths a task writes are not
// tracked, and a task without differential updates records no deltas, so it
// contributes no paths.
func (c *Cache) AllTasksCompleted() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range c.order {
		tc := c.tasks[name]
		if !tc.HasNewOrModifiedCacheEntries() {
			continue
		}
		for _, d := range tc.GetProjectIndexDeltas() {
			for _, p := range d.ChangedPaths {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// Persist builds and stores this project's manifest under its build
// signature, so a future build with the same signature can Load it. Only
// called after a build completes successfully (spec §7: "a build failure
// prevents writing the build manifest for the failing build signature").
func (c *Cache) Persist(ctx context.Context) error {
	manifest := Manifest{
		BuildSignature:    c.signature,
		ToolchainVersions: c.toolchainVersions,
		BuildConfig:       c.buildConfig,
		TaskOrder:         append([]string(nil), c.order...),
		Tasks:             map[string]taskcache.CacheObjects{},
	}
	for _, name := range c.order {
		manifest.Tasks[name] = c.tasks[name].ToCacheObjects()
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return c.store.Put(ctx, castore.ManifestKey(c.projectID, c.signature), raw)
}

// Tag attaches a piece of derived tag metadata to the project build cache
// (e.g. a computed output fingerprint a later stage wants to reference
// without recomputing it).
func (c *Cache) Tag(key, value string) { c.tags[key] = value }

// TagValue returns a previously attached tag, if any.
func (c *Cache) TagValue(key string) (string, bool) {
	v, ok := c.tags[key]
	return v, ok
}
