package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusui/buildcache/castore/memory"
	"github.com/nimbusui/buildcache/projectcache"
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

func (r *fakeReader) ByGlob(context.Context, []string) ([]resource.Resource, error) { return nil, nil }

func TestRunnerExecutesEveryTaskOnFirstBuild(t *testing.T) {
	ctx := context.Background()
	reader := newFakeReader()
	reader.set("/a.js", "h1", 10)

	cache := projectcache.New("proj1", "sig1", memory.New(), nil, json.RawMessage(`{}`))
	tasks, err := ComposeTaskList(Module, nil)
	require.NoError(t, err)

	var executed []string
	body := func(_ context.Context, def TaskDef, projectReader, depReader resource.Reader, info *projectcache.CacheInfo) ([]byte, bool, error) {
		executed = append(executed, def.Name)
		_, _ = projectReader.ByPath(ctx, "/a.js")
		return []byte("output-" + def.Name), false, nil
	}

	r := New("proj1", tasks, cache, reader, nil, body, nil)
	completed, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"clean", "compile", "package"}, executed)
	assert.Equal(t, executed, completed)
}

func TestRunnerSkipsCachedTaskOnSecondBuild(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reader := newFakeReader()
	reader.set("/a.js", "h1", 10)

	tasks, err := ComposeTaskList(Module, nil)
	require.NoError(t, err)

	body := func(_ context.Context, def TaskDef, projectReader, depReader resource.Reader, info *projectcache.CacheInfo) ([]byte, bool, error) {
		_, _ = projectReader.ByPath(ctx, "/a.js")
		return []byte("output-" + def.Name), false, nil
	}

	cache1 := projectcache.New("proj1", "sig1", store, nil, json.RawMessage(`{}`))
	r1 := New("proj1", tasks, cache1, reader, nil, body, nil)
	_, err = r1.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, cache1.Persist(ctx))

	cache2, err := projectcache.Load(ctx, "proj1", "sig1", store, false)
	require.NoError(t, err)
	require.True(t, cache2.IsFresh())

	var executed []string
	body2 := func(_ context.Context, def TaskDef, projectReader, depReader resource.Reader, info *projectcache.CacheInfo) ([]byte, bool, error) {
		executed = append(executed, def.Name)
		_, _ = projectReader.ByPath(ctx, "/a.js")
		return []byte("output-" + def.Name), false, nil
	}
	r2 := New("proj1", tasks, cache2, reader, nil, body2, nil)
	completed, err := r2.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, executed, "unchanged project state must skip every task")
	assert.Equal(t, []string{"clean", "compile", "package"}, completed)
}

func TestRunnerPropagatesTaskExecutionFailure(t *testing.T) {
	ctx := context.Background()
	reader := newFakeReader()
	cache := projectcache.New("proj1", "sig1", memory.New(), nil, json.RawMessage(`{}`))
	tasks, err := ComposeTaskList(Module, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	body := func(_ context.Context, def TaskDef, _, _ resource.Reader, _ *projectcache.CacheInfo) ([]byte, bool, error) {
		if def.Name == "compile" {
			return nil, false, boom
		}
		return []byte("ok"), false, nil
	}

	r := New("proj1", tasks, cache, reader, nil, body, nil)
	completed, err := r.Run(ctx)
	var failErr *TaskExecutionFailedError
	require.ErrorAs(t, err, &failErr)
	assert.Equal(t, "compile", failErr.Task)
	assert.Equal(t, []string{"clean"}, completed)
}

func TestRunnerAbortsOnCancelledContext(t *testing.T) {
	reader := newFakeReader()
	cache := projectcache.New("proj1", "sig1", memory.New(), nil, json.RawMessage(`{}`))
	tasks, err := ComposeTaskList(Application, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	body := func(_ context.Context, def TaskDef, _, _ resource.Reader, _ *projectcache.CacheInfo) ([]byte, bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return []byte("ok"), false, nil
	}

	r := New("proj1", tasks, cache, reader, nil, body, nil)
	_, err = r.Run(ctx)
	var abortErr *BuildAbortedError
	require.ErrorAs(t, err, &abortErr)
}
