package requestgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusui/buildcache/resource"
)

func TestDeltaEncodingChain(t *testing.T) {
	g := New()
	id1 := g.AddRequestSet([]resource.Request{resource.NewPathRequest("/a.js")}, nil)
	id2 := g.AddRequestSet([]resource.Request{resource.NewPathRequest("/a.js"), resource.NewPathRequest("/b.js")}, nil)
	id3 := g.AddRequestSet([]resource.Request{
		resource.NewPathRequest("/a.js"), resource.NewPathRequest("/b.js"), resource.NewPathRequest("/c.js"),
	}, nil)

	n1, _ := g.Node(id1)
	n2, _ := g.Node(id2)
	n3, _ := g.Node(id3)

	assert.Equal(t, -1, n1.ParentID)
	assert.Equal(t, id1, n2.ParentID)
	assert.Equal(t, id2, n3.ParentID)
	assert.Len(t, n2.Added, 1)
	assert.Len(t, n3.Added, 1)
}

func TestExactMatchReuse(t *testing.T) {
	g := New()
	reqs := []resource.Request{resource.NewPathRequest("/x")}
	id1 := g.AddRequestSet(reqs, nil)

	foundID, ok := g.FindExactMatch(reqs)
	require.True(t, ok)
	assert.Equal(t, id1, foundID)
	assert.Equal(t, 1, g.Len())
}

func TestFindBestMatchSubset(t *testing.T) {
	g := New()
	g.AddRequestSet([]resource.Request{resource.NewPathRequest("/a")}, nil)
	id2 := g.AddRequestSet([]resource.Request{resource.NewPathRequest("/a"), resource.NewPathRequest("/b")}, nil)

	query := []resource.Request{
		resource.NewPathRequest("/a"), resource.NewPathRequest("/b"), resource.NewPathRequest("/c"),
	}
	best, ok := g.FindBestMatch(query)
	require.True(t, ok)
	assert.Equal(t, id2, best)
}

func TestTraverseByDepthParentBeforeChild(t *testing.T) {
	g := New()
	id1 := g.AddRequestSet([]resource.Request{resource.NewPathRequest("/a")}, nil)
	id2 := g.AddRequestSet([]resource.Request{resource.NewPathRequest("/a"), resource.NewPathRequest("/b")}, nil)

	entries := g.TraverseByDepth()
	require.Len(t, entries, 2)
	assert.Equal(t, id1, entries[0].NodeID)
	assert.Equal(t, id2, entries[1].NodeID)
	assert.Equal(t, 0, entries[0].Depth)
	assert.Equal(t, 1, entries[1].Depth)
}

func TestCacheObjectRoundTrip(t *testing.T) {
	g := New()
	g.AddRequestSet([]resource.Request{resource.NewPathRequest("/a")}, "root-meta")
	g.AddRequestSet([]resource.Request{resource.NewPathRequest("/a"), resource.NewPathRequest("/b")}, "child-meta")

	obj := g.ToCacheObject()
	metaByID := map[int]any{0: "root-meta", 1: "child-meta"}
	restored, err := FromCacheObject(obj, func(id int) (any, error) { return metaByID[id], nil })
	require.NoError(t, err)

	assert.Equal(t, g.Len(), restored.Len())
	for _, id := range []int{0, 1} {
		orig, _ := g.Node(id)
		got, ok := restored.Node(id)
		require.True(t, ok)
		assert.Equal(t, orig.ParentID, got.ParentID)
		assert.Equal(t, len(orig.Added), len(got.Added))
		assert.Equal(t, metaByID[id], got.Metadata)
	}
}
