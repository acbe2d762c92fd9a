package taskcache

import (
	"context"
	"io"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestRecordRequestsNoDependency(t *testing.T) {
	projectReader := newFakeReader()
	projectReader.set("/a.js", "h1", 10)

	c := New(false)
	projectSig, depSig, err := c.RecordRequests(context.Background(),
		resource.Recording{Paths: []string{"/a.js"}}, nil, projectReader, nil)
	require.NoError(t, err)
	assert.NotEqual(t, NoDependencyRequests, projectSig)
	assert.Equal(t, NoDependencyRequests, depSig)

	gotProj, gotDep := c.LastSignatures()
	assert.Equal(t, projectSig, gotProj)
	assert.Equal(t, depSig, gotDep)
}

func TestRecordRequestsWithDependency(t *testing.T) {
	projectReader := newFakeReader()
	projectReader.set("/a.js", "h1", 10)
	depReader := newFakeReader()
	depReader.set("/dep/lib.js", "h2", 20)

	c := New(true)
	depRec := resource.Recording{Paths: []string{"/dep/lib.js"}}
	projectSig, depSig, err := c.RecordRequests(context.Background(),
		resource.Recording{Paths: []string{"/a.js"}}, &depRec, projectReader, depReader)
	require.NoError(t, err)
	assert.NotEqual(t, NoDependencyRequests, projectSig)
	assert.NotEqual(t, NoDependencyRequests, depSig)
}

func TestCacheObjectsRoundTrip(t *testing.T) {
	projectReader := newFakeReader()
	projectReader.set("/a.js", "h1", 10)

	c := New(false)
	ctx := context.Background()
	_, _, err := c.RecordRequests(ctx, resource.Recording{Paths: []string{"/a.js"}}, nil, projectReader, nil)
	require.NoError(t, err)

	obj := c.ToCacheObjects()

	restored, err := FromCache(obj, false)
	require.NoError(t, err)

	assert.Equal(t, c.GetProjectIndexSignatures(), restored.GetProjectIndexSignatures())
	assert.Equal(t, c.GetDependencyIndexSignatures(), restored.GetDependencyIndexSignatures())
	gotProj, gotDep := restored.LastSignatures()
	wantProj, wantDep := c.LastSignatures()
	assert.Equal(t, wantProj, gotProj)
	assert.Equal(t, wantDep, gotDep)
}

func TestUpdateDependencyIndicesNilMeansFullRefresh(t *testing.T) {
	projectReader := newFakeReader()
	projectReader.set("/a.js", "h1", 10)
	depReader := newFakeReader()
	depReader.set("/dep/lib.js", "h2", 20)

	c := New(false)
	ctx := context.Background()
	depRec := resource.Recording{Paths: []string{"/dep/lib.js"}}
	_, _, err := c.RecordRequests(ctx, resource.Recording{Paths: []string{"/a.js"}}, &depRec, projectReader, depReader)
	require.NoError(t, err)

	before := c.GetDependencyIndexSignatures()

	depReader.set("/dep/lib.js", "h3", 21)
	_, err = c.UpdateDependencyIndices(ctx, depReader, nil)
	require.NoError(t, err)

	after := c.GetDependencyIndexSignatures()
	assert.NotEqual(t, before, after, "a full refresh must pick up a changed dependency resource")
}
