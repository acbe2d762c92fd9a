package taskrunner

import (
	"context"
	"sync"

	"github.com/nimbusui/buildcache/resource"
)

// MonitoredReader wraps a resource.Reader, recording every ByPath call
// into a paths set and every ByGlob call into a patterns set, so the Task
// Runner can hand a task's recorded reads to its BuildTaskCache after
// execution (spec §4.8). Safe for concurrent use by a task that fans out
// its own reads.
type MonitoredReader struct {
	inner resource.Reader

	mu  sync.Mutex
	rec resource.Recording
}

// NewMonitoredReader wraps inner. A nil inner is valid and yields a reader
// that always misses — used for a task that declared no dependency reader.
func NewMonitoredReader(inner resource.Reader) *MonitoredReader {
	return &MonitoredReader{inner: inner}
}

// ByPath records path and delegates to the wrapped reader.
func (m *MonitoredReader) ByPath(ctx context.Context, path string) (resource.Resource, error) {
	m.mu.Lock()
	m.rec.Paths = append(m.rec.Paths, path)
	m.mu.Unlock()

	if m.inner == nil {
		return nil, nil
	}
	return m.inner.ByPath(ctx, path)
}

// ByGlob records patterns and delegates to the wrapped reader.
func (m *MonitoredReader) ByGlob(ctx context.Context, patterns []string) ([]resource.Resource, error) {
	m.mu.Lock()
	m.rec.Patterns = append(m.rec.Patterns, append([]string(nil), patterns...))
	m.mu.Unlock()

	if m.inner == nil {
		return nil, nil
	}
	return m.inner.ByGlob(ctx, patterns)
}

// Recording returns a copy of everything recorded so far.
func (m *MonitoredReader) Recording() resource.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return resource.Recording{
		Paths:    append([]string(nil), m.rec.Paths...),
		Patterns: append([][]string(nil), m.rec.Patterns...),
	}
}

// Touched reports whether any ByPath/ByGlob call has been recorded.
func (m *MonitoredReader) Touched() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rec.Paths) > 0 || len(m.rec.Patterns) > 0
}

var _ resource.Reader = (*MonitoredReader)(nil)
