package projectcache

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusui/buildcache/castore/memory"
	"github.com/nimbusui/buildcache/resource"
)

type fakeResource struct {
	path         string
	integrity    string
	size         int64
	lastModified time.Time
}

func (r *fakeResource) Path() string                               { return r.path }
func (r *fakeResource) Size() int64                                 { return r.size }
func (r *fakeResource) LastModified() time.Time                     { return r.lastModified }
func (r *fakeResource) Inode() uint64                                { return 1 }
func (r *fakeResource) Integrity(context.Context) (string, error)   { return r.integrity, nil }
func (r *fakeResource) Open(context.Context) (io.ReadCloser, error) { return nil, nil }

type fakeReader struct {
	files map[string]*fakeResource
}

func newFakeReader() *fakeReader { return &fakeReader{files: map[string]*fakeResource{}} }

func (r *fakeReader) set(p, integrity string, size int64) {
	r.files[p] = &fakeResource{path: p, integrity: integrity, size: size, lastModified: time.Unix(1000, 0)}
}

func (r *fakeReader) ByPath(_ context.Context, p string) (resource.Resource, error) {
	f, ok := r.files[p]
	if !ok {
		return nil, nil
	}
	return f, nil
}

func (r *fakeReader) ByGlob(_ context.Context, patterns []string) ([]resource.Resource, error) {
	var out []resource.Resource
	for p, f := range r.files {
		for _, pat := range patterns {
			if ok, _ := path.Match(pat, p); ok {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

func TestNewCacheIsNotFresh(t *testing.T) {
	c := New("proj1", "sig1", memory.New(), []string{"1.0.0"}, json.RawMessage(`{}`))
	assert.False(t, c.IsFresh())
}

func TestFirstRunAlwaysFullRerun(t *testing.T) {
	c := New("proj1", "sig1", memory.New(), []string{"1.0.0"}, json.RawMessage(`{}`))
	decision, err := c.PrepareTaskExecutionAndValidateCache(context.Background(), "minify")
	require.NoError(t, err)
	assert.True(t, decision.FullRerun())
}

func TestRecordThenLoadIsFreshAndSkips(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reader := newFakeReader()
	reader.set("/a.js", "h1", 10)

	c := New("proj1", "sig1", store, []string{"1.0.0"}, json.RawMessage(`{}`))
	err := c.RecordTaskResult(ctx, "minify", resource.Recording{Paths: []string{"/a.js"}}, nil, reader, nil, false, []byte("output"))
	require.NoError(t, err)
	require.NoError(t, c.Persist(ctx))

	restored, err := Load(ctx, "proj1", "sig1", store, false)
	require.NoError(t, err)
	assert.True(t, restored.IsFresh())

	decision, err := restored.PrepareTaskExecutionAndValidateCache(ctx, "minify")
	require.NoError(t, err)
	assert.True(t, decision.Skip, "an unchanged resource set with a cached stage output must be skippable")
}

func TestLoadMissReturnsFreshEmptyCache(t *testing.T) {
	c, err := Load(context.Background(), "proj1", "nonexistent-sig", memory.New(), false)
	require.NoError(t, err)
	assert.False(t, c.IsFresh())
}

func TestRecordWithoutOutputIsNotSkipped(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reader := newFakeReader()
	reader.set("/a.js", "h1", 10)

	c := New("proj1", "sig1", store, nil, nil)
	// RecordTaskResult without output: nothing is stored at the stage key,
	// so even an unchanged request set can't be skipped.
	err := c.RecordTaskResult(ctx, "minify", resource.Recording{Paths: []string{"/a.js"}}, nil, reader, nil, false, nil)
	require.NoError(t, err)

	decision, err := c.PrepareTaskExecutionAndValidateCache(ctx, "minify")
	require.NoError(t, err)
	assert.False(t, decision.Skip)
}

func TestUnrelatedTaskSignatureUnaffectedByAnotherTasksResourceChange(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reader := newFakeReader()
	reader.set("/a.js", "h1", 10)
	reader.set("/b.js", "h2", 20)

	c := New("proj1", "sig1", store, nil, nil)
	require.NoError(t, c.RecordTaskResult(ctx, "minify", resource.Recording{Paths: []string{"/a.js"}}, nil, reader, nil, false, []byte("minify-out")))
	require.NoError(t, c.RecordTaskResult(ctx, "lint", resource.Recording{Paths: []string{"/b.js"}}, nil, reader, nil, false, []byte("lint-out")))

	lintSigBefore := c.tasks["lint"].GetProjectIndexSignatures()

	// Only /a.js (minify's own resource) changes and is reported upstream;
	// /b.js (lint's own resource) never changed.
	reader.set("/a.js", "h1-changed", 11)
	c.ProjectSourcesChanged([]string{"/a.js"})
	require.NoError(t, c.Validate(ctx, reader))

	lintSigAfter := c.tasks["lint"].GetProjectIndexSignatures()
	assert.Equal(t, lintSigBefore, lintSigAfter, "a resource only minify requested must never appear in lint's tree")

	decision, err := c.PrepareTaskExecutionAndValidateCache(ctx, "lint")
	require.NoError(t, err)
	assert.True(t, decision.Skip, "lint's own unchanged resource set must still be skippable")
}

func TestAllTasksCompletedReturnsSortedUnion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reader := newFakeReader()
	reader.set("/b.js", "h1", 10)
	reader.set("/a.js", "h1", 10)

	c := New("proj1", "sig1", store, nil, nil)
	require.NoError(t, c.RecordTaskResult(ctx, "minify", resource.Recording{Paths: []string{"/b.js", "/a.js"}}, nil, reader, nil, true, []byte("out")))

	// change a.js and apply it directly to minify's project-side indices
	reader.set("/a.js", "h2", 11)
	_, err := c.tasks["minify"].UpdateProjectIndices(ctx, reader, []string{"/a.js"})
	require.NoError(t, err)

	paths := c.AllTasksCompleted()
	assert.Contains(t, paths, "/a.js")
}

func TestComputeSignatureDeterministicUnderReordering(t *testing.T) {
	in1 := SignatureInput{
		ProjectID:      "p1",
		ProjectVersion: "1.0.0",
		BuildConfig:    map[string]any{"minify": true},
		Dependencies: []VersionedIdentity{
			{ID: "b", Version: "2.0.0"},
			{ID: "a", Version: "1.0.0"},
		},
		ToolVersions: []string{"2.0.0", "1.0.0"},
	}
	in2 := SignatureInput{
		ProjectID:      "p1",
		ProjectVersion: "1.0.0",
		BuildConfig:    map[string]any{"minify": true},
		Dependencies: []VersionedIdentity{
			{ID: "a", Version: "1.0.0"},
			{ID: "b", Version: "2.0.0"},
		},
		ToolVersions: []string{"1.0.0", "2.0.0"},
	}
	sig1, err := ComputeSignature(in1)
	require.NoError(t, err)
	sig2, err := ComputeSignature(in2)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
}

func TestComputeSignatureChangesWithConfig(t *testing.T) {
	base := SignatureInput{ProjectID: "p1", ProjectVersion: "1.0.0", BuildConfig: map[string]any{"minify": true}}
	changed := base
	changed.BuildConfig = map[string]any{"minify": false}

	sig1, err := ComputeSignature(base)
	require.NoError(t, err)
	sig2, err := ComputeSignature(changed)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig2)
}
