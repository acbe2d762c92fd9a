// Package taskcache implements BuildTaskCache (spec §4.6): the pairing of
// a project-side and a dependency-side reqmanager.Manager for one task of
// one project, producing the [projectSig, depSig] pair a ProjectBuildCache
// uses as the secondary key into the persisted cache.
package taskcache

import (
	"context"

	"github.com/nimbusui/buildcache/hashtree"
	"github.com/nimbusui/buildcache/reqmanager"
	"github.com/nimbusui/buildcache/resource"
)

// Sharing a TreeRegistry's Flush across unrelated trees applies every
// pending upsert to every registered tree unconditionally (hashtree
// Flush phase 2): a tree that never requested a path still gets it
// inserted the first time that path happens to be flushed on a shared
// registry. A task's project-side and dependency-side resource sets are
// disjoint namespaces, and two tasks' own resource sets are unrelated, so
// each side of each task owns its own registry — never shared with any
// other Manager — and Flush only ever sees the trees that one Manager's
// own request-set graph actually produced.

// NoDependencyRequests is the sentinel dependency signature reported when a
// task never issued a dependency-side request (spec §4.5 "X").
const NoDependencyRequests = "X"

// Cache composes the two managers for one task.
type Cache struct {
	project *reqmanager.Manager
	dep     *reqmanager.Manager

	// lastProjectSig/lastDepSig are the [projectSig, depSig] pair from the
	// most recent RecordRequests call — the secondary key a
	// ProjectBuildCache stores this task's output under (spec §4.6).
	lastProjectSig string
	lastDepSig     string
}

// New returns an empty task cache, its project side and dependency side
// each owning a private TreeRegistry. useDifferentialUpdate enables delta
// tracking on both sides, so a task that opts into differential builds
// can reuse a changed-but-compatible cache entry.
func New(useDifferentialUpdate bool) *Cache {
	return &Cache{
		project: reqmanager.NewManager(false, useDifferentialUpdate),
		dep:     reqmanager.NewManager(true, useDifferentialUpdate),
	}
}

// RecordRequests records one task execution's recorded reads on both
// sides. depRec is nil when the task never touched a dependency reader;
// the returned dependency signature is then NoDependencyRequests.
func (c *Cache) RecordRequests(ctx context.Context, projectRec resource.Recording, depRec *resource.Recording, projectReader, depReader resource.Reader) (projectSig, depSig string, err error) {
	projectSig, err = c.recordOneSide(ctx, c.project, projectRec, projectReader)
	if err != nil {
		return "", "", err
	}

	if depRec == nil {
		depSig = c.dep.RecordNoRequests()
		c.lastProjectSig, c.lastDepSig = projectSig, depSig
		return projectSig, depSig, nil
	}
	depSig, err = c.recordOneSide(ctx, c.dep, *depRec, depReader)
	if err != nil {
		return "", "", err
	}
	c.lastProjectSig, c.lastDepSig = projectSig, depSig
	return projectSig, depSig, nil
}

// LastSignatures returns the [projectSig, depSig] pair recorded by the most
// recent RecordRequests call, the pair a ProjectBuildCache addresses this
// task's stored output by.
func (c *Cache) LastSignatures() (projectSig, depSig string) {
	return c.lastProjectSig, c.lastDepSig
}

func (c *Cache) recordOneSide(ctx context.Context, m *reqmanager.Manager, rec resource.Recording, reader resource.Reader) (string, error) {
	if len(rec.Paths) == 0 && len(rec.Patterns) == 0 {
		return m.RecordNoRequests(), nil
	}
	_, sig, err := m.AddRequests(ctx, rec, reader)
	return sig, err
}

// UpdateProjectIndices reacts to a set of changed project-side paths,
// reporting whether any tracked request set's signature moved.
func (c *Cache) UpdateProjectIndices(ctx context.Context, reader resource.Reader, changedPaths []string) (bool, error) {
	return c.project.UpdateIndices(ctx, reader, changedPaths)
}

// UpdateDependencyIndices resyncs the dependency side. When changedPaths is
// nil, a full refresh is performed — dependencies may change between
// builds independently of the project's own invalidation stream, and must
// be re-synced once at the start of every build (spec §4.6).
func (c *Cache) UpdateDependencyIndices(ctx context.Context, reader resource.Reader, changedPaths []string) (bool, error) {
	if changedPaths == nil {
		return false, c.dep.RefreshIndices(ctx, reader)
	}
	return c.dep.UpdateIndices(ctx, reader, changedPaths)
}

// GetProjectIndexSignatures / GetDependencyIndexSignatures expose every
// signature recorded on each side, used to validate a candidate cache hit
// against the full set of request sets a task might issue.
func (c *Cache) GetProjectIndexSignatures() []string    { return c.project.GetIndexSignatures() }
func (c *Cache) GetDependencyIndexSignatures() []string { return c.dep.GetIndexSignatures() }

// GetProjectIndexDeltas / GetDependencyIndexDeltas expose differential
// reuse candidates accumulated by the most recent UpdateIndices calls.
func (c *Cache) GetProjectIndexDeltas() map[string]reqmanager.Delta    { return c.project.GetDeltas() }
func (c *Cache) GetDependencyIndexDeltas() map[string]reqmanager.Delta { return c.dep.GetDeltas() }

// HasNewOrModifiedCacheEntries reports whether either side has observed an
// added or changed resource in any refresh/update so far.
func (c *Cache) HasNewOrModifiedCacheEntries() bool {
	return c.project.HasNewOrModifiedCacheEntries() || c.dep.HasNewOrModifiedCacheEntries()
}

// CacheObjects is the JSON-serialisable shape of one task's cache object
// (spec §6): `{projectRequests, dependencyRequests}`.
type CacheObjects struct {
	ProjectRequests    reqmanager.CacheObject `json:"projectRequests"`
	DependencyRequests reqmanager.CacheObject `json:"dependencyRequests"`
	LastProjectSig     string                 `json:"lastProjectSignature"`
	LastDepSig         string                 `json:"lastDependencySignature"`
}

// ToCacheObjects serialises both sides.
func (c *Cache) ToCacheObjects() CacheObjects {
	return CacheObjects{
		ProjectRequests:    c.project.ToCacheObject(),
		DependencyRequests: c.dep.ToCacheObject(),
		LastProjectSig:     c.lastProjectSig,
		LastDepSig:         c.lastDepSig,
	}
}

// FromCache rebuilds a Cache from its serialised form, giving the project
// side and the dependency side each their own fresh TreeRegistry.
func FromCache(data CacheObjects, useDifferentialUpdate bool) (*Cache, error) {
	project, err := reqmanager.FromCacheObject(data.ProjectRequests, hashtree.NewTreeRegistry(nil), false, useDifferentialUpdate)
	if err != nil {
		return nil, err
	}
	dep, err := reqmanager.FromCacheObject(data.DependencyRequests, hashtree.NewTreeRegistry(nil), true, useDifferentialUpdate)
	if err != nil {
		return nil, err
	}
	return &Cache{
		project:        project,
		dep:            dep,
		lastProjectSig: data.LastProjectSig,
		lastDepSig:     data.LastDepSig,
	}, nil
}
