// Package memreader is a billy-backed reference implementation of
// resource.Reader, used by tests and by the reference in-memory
// DependencyGraph (internal/depgraph). Grounded on go-git's own in-memory
// storage (storage/memory) and examples/storage, which likewise wrap a
// go-billy/v5/memfs filesystem as the concrete backend behind an abstract
// storage interface.
package memreader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"

	"github.com/nimbusui/buildcache/resource"
)

// Reader is a resource.Reader backed by an in-memory billy filesystem.
//
// billy's Basic filesystem interface makes no promise about mtime
// granularity or even support (memfs's Stat result is whatever the host
// clock was at Create time), so modTime is tracked here explicitly rather
// than through the filesystem, the same way inode numbers are synthesised
// below — it lets tests seed an exact LastModified to exercise the
// racy-update defence without depending on filesystem timestamp behaviour.
type Reader struct {
	fs      billy.Filesystem
	mu      sync.Mutex
	nextIno uint64
	inodes  map[string]uint64
	mtimes  map[string]time.Time
}

// New returns a Reader over a fresh, empty in-memory filesystem.
func New() *Reader {
	return &Reader{fs: memfs.New(), inodes: map[string]uint64{}, mtimes: map[string]time.Time{}}
}

// NewFromFilesystem wraps an already-populated billy filesystem.
func NewFromFilesystem(fs billy.Filesystem) *Reader {
	return &Reader{fs: fs, inodes: map[string]uint64{}, mtimes: map[string]time.Time{}}
}

// WriteFile seeds the backing filesystem with content at path, stamped
// with modTime — the construction helper tests use to stand up a resource
// set before exercising the cache against it.
func (r *Reader) WriteFile(path string, content []byte, modTime time.Time) error {
	if dir := parentOf(path); dir != "" {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := r.fs.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	r.mu.Lock()
	r.mtimes[path] = modTime
	r.mu.Unlock()
	return nil
}

// Remove deletes the file at path from the backing filesystem.
func (r *Reader) Remove(path string) error {
	r.mu.Lock()
	delete(r.mtimes, path)
	r.mu.Unlock()
	return r.fs.Remove(path)
}

func parentOf(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return ""
	}
	return p[:idx]
}

// ByPath implements resource.Reader.
func (r *Reader) ByPath(ctx context.Context, p string) (resource.Resource, error) {
	fi, err := r.fs.Stat(p)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if fi.IsDir() {
		return nil, nil
	}
	return r.resourceFor(p, fi), nil
}

// ByGlob implements resource.Reader by walking the whole namespace and
// matching every regular file against patterns.
func (r *Reader) ByGlob(ctx context.Context, patterns []string) ([]resource.Resource, error) {
	var out []resource.Resource
	seen := map[string]bool{}

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := r.fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			full := path.Join(dir, e.Name())
			if e.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			if seen[full] || !resource.MatchAny(patterns, full) {
				continue
			}
			seen[full] = true
			out = append(out, r.resourceFor(full, e))
		}
		return nil
	}
	if err := walk("."); err != nil && !isNotExist(err) {
		return nil, err
	}
	return out, nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}

func (r *Reader) resourceFor(p string, fi fs.FileInfo) *fileResource {
	clean := strings.TrimPrefix(p, "./")
	return &fileResource{
		reader: r,
		path:   clean,
		size:   fi.Size(),
		mod:    r.modTimeFor(clean, fi),
		inode:  r.inodeFor(p),
	}
}

func (r *Reader) modTimeFor(p string, fi fs.FileInfo) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mt, ok := r.mtimes[p]; ok {
		return mt
	}
	return fi.ModTime()
}

func (r *Reader) inodeFor(p string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ino, ok := r.inodes[p]; ok {
		return ino
	}
	ino := atomic.AddUint64(&r.nextIno, 1)
	r.inodes[p] = ino
	return ino
}

type fileResource struct {
	reader *Reader
	path   string
	size   int64
	mod    time.Time
	inode  uint64

	mu        sync.Mutex
	integrity string
	computed  bool
}

func (f *fileResource) Path() string           { return f.path }
func (f *fileResource) Size() int64            { return f.size }
func (f *fileResource) LastModified() time.Time { return f.mod }
func (f *fileResource) Inode() uint64          { return f.inode }

func (f *fileResource) Integrity(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.computed {
		return f.integrity, nil
	}
	rc, err := f.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	f.integrity = hex.EncodeToString(h.Sum(nil))
	f.computed = true
	return f.integrity, nil
}

func (f *fileResource) Open(ctx context.Context) (io.ReadCloser, error) {
	return f.reader.fs.Open(f.path)
}

var _ resource.Resource = (*fileResource)(nil)
var _ resource.Reader = (*Reader)(nil)
