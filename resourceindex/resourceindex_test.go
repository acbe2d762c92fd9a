package resourceindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusui/buildcache/hashtree"
	"github.com/nimbusui/buildcache/resource"
)

func TestDeriveSignatureDiffersWithNewContent(t *testing.T) {
	reg := hashtree.NewTreeRegistry(nil)
	root, err := NewRoot(reg, []resource.Metadata{{Path: "a.js", Integrity: "h1", LastModified: time.Unix(1, 0)}}, time.Unix(100, 0))
	require.NoError(t, err)

	derived, err := root.Derive([]resource.Metadata{{Path: "b.js", Integrity: "h2", LastModified: time.Unix(1, 0)}})
	require.NoError(t, err)

	assert.NotEqual(t, root.Signature(), derived.Signature())
	assert.True(t, derived.HasPath("a.js"))
	assert.True(t, derived.HasPath("b.js"))
	assert.False(t, root.HasPath("b.js"))
}
