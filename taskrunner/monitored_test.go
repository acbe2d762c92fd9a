package taskrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusui/buildcache/resource"
)

func TestMonitoredReaderRecordsCalls(t *testing.T) {
	m := NewMonitoredReader(nil)
	assert.False(t, m.Touched())

	_, err := m.ByPath(context.Background(), "/a.js")
	require.NoError(t, err)
	_, err = m.ByGlob(context.Background(), []string{"*.css"})
	require.NoError(t, err)

	assert.True(t, m.Touched())
	rec := m.Recording()
	assert.Equal(t, []string{"/a.js"}, rec.Paths)
	assert.Equal(t, [][]string{{"*.css"}}, rec.Patterns)
}

func TestMonitoredReaderNilInnerAlwaysMisses(t *testing.T) {
	m := NewMonitoredReader(nil)
	res, err := m.ByPath(context.Background(), "/a.js")
	require.NoError(t, err)
	assert.Nil(t, res)
}

type fixedReader struct {
	res resource.Resource
}

func (r fixedReader) ByPath(context.Context, string) (resource.Resource, error) { return r.res, nil }
func (r fixedReader) ByGlob(context.Context, []string) ([]resource.Resource, error) {
	return []resource.Resource{r.res}, nil
}

func TestMonitoredReaderDelegatesToInner(t *testing.T) {
	inner := fixedReader{}
	m := NewMonitoredReader(inner)
	res, err := m.ByPath(context.Background(), "/a.js")
	require.NoError(t, err)
	assert.Nil(t, res) // inner.res is nil, but the call must still delegate without erroring
}
