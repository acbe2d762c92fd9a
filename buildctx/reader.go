package buildctx

import (
	"context"

	"github.com/nimbusui/buildcache/resource"
)

// combinedReader merges several readers into one: ByPath returns the first
// match found, in reader order; ByGlob returns the union of every reader's
// matches. Used to present a task's several direct dependencies as the
// single Reader its TaskBody is handed.
type combinedReader struct {
	readers []resource.Reader
}

func multiReader(readers []resource.Reader) resource.Reader {
	if len(readers) == 1 {
		return readers[0]
	}
	return &combinedReader{readers: readers}
}

func (c *combinedReader) ByPath(ctx context.Context, path string) (resource.Resource, error) {
	for _, r := range c.readers {
		res, err := r.ByPath(ctx, path)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

func (c *combinedReader) ByGlob(ctx context.Context, patterns []string) ([]resource.Resource, error) {
	var out []resource.Resource
	for _, r := range c.readers {
		matches, err := r.ByGlob(ctx, patterns)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

var _ resource.Reader = (*combinedReader)(nil)
