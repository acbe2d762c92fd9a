// Package fs is a filesystem-backed castore.Store: blobs are written under
// a sharded-by-prefix directory layout and committed with a temp-file-then-
// rename, exactly the pattern go-git's storage/filesystem/internal/dotgit
// uses for loose objects (two hex characters as the shard directory, an
// atomic billy.TempFile + Rename into place so a reader never observes a
// partially written blob).
package fs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/nimbusui/buildcache/castore"
)

// Store is a castore.Store rooted at a billy.Filesystem.
type Store struct {
	fs billy.Filesystem
}

// New roots a Store at root on the real OS filesystem.
func New(root string) (*Store, error) {
	return &Store{fs: osfs.New(root)}, nil
}

// NewFromFilesystem wraps an already-open billy.Filesystem (tests use an
// in-memory billy filesystem to exercise the same sharding/rename code
// path without touching disk).
func NewFromFilesystem(fs billy.Filesystem) *Store {
	return &Store{fs: fs}
}

func shardedPath(key string) (string, error) {
	// Keys may contain '/' (e.g. castore.StageKey); securejoin guards
	// against a crafted key escaping the store root via "..".
	joined, err := securejoin.SecureJoin("blobs", key)
	if err != nil {
		return "", fmt.Errorf("castore/fs: %w", err)
	}
	return joined, nil
}

func integrityPath(integrity string) (string, error) {
	h := integrity
	if len(h) < 4 {
		h = h + "0000"[:4-len(h)]
	}
	return securejoin.SecureJoin("objects", h[0:2]+"/"+h[2:])
}

// Get reads the blob stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := shardedPath(key)
	if err != nil {
		return nil, err
	}
	return s.read(p)
}

// GetByIntegrity reads the blob stored under its content integrity,
// verifying the stored bytes still hash to it.
func (s *Store) GetByIntegrity(ctx context.Context, integrity string) ([]byte, error) {
	p, err := integrityPath(integrity)
	if err != nil {
		return nil, err
	}
	data, err := s.read(p)
	if err != nil {
		return nil, err
	}
	if sum(data) != integrity {
		return nil, castore.ErrNotFound
	}
	return data, nil
}

func (s *Store) read(p string) ([]byte, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, castore.ErrNotFound
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Put stores data under key, and also under its content integrity so a
// later GetByIntegrity / cache verify pass can find it independent of key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	return s.PutStream(ctx, key, bytes.NewReader(data))
}

// PutStream reads r fully into memory, then stores the bytes under key and
// also under their content integrity.
func (s *Store) PutStream(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	keyPath, err := shardedPath(key)
	if err != nil {
		return err
	}
	if err := s.writeAtomic(keyPath, data); err != nil {
		return err
	}

	intPath, err := integrityPath(sum(data))
	if err != nil {
		return err
	}
	return s.writeAtomic(intPath, data)
}

// writeAtomic writes data to a temp file in the same shard directory as
// dest and renames it into place, so a concurrent reader of dest never
// observes a partial write.
func (s *Store) writeAtomic(dest string, data []byte) error {
	dir := parentDir(dest)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := s.fs.TempFile(dir, "tmp_blob_")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return s.fs.Rename(tmp.Name(), dest)
}

// BlobInfo describes one content-addressed blob found under the store's
// integrity-keyed directory, for `cache verify`/`cache clean` (SPEC_FULL
// §10). Grounded on dotgit.Objects' two-level hex shard walk.
type BlobInfo struct {
	Integrity string
	Size      int64
	ModTime   time.Time
}

// Objects lists every blob stored under its content integrity, walking the
// "objects/xx/yyyy..." shard tree the same way dotgit.Objects walks
// ".git/objects".
func (s *Store) Objects() ([]BlobInfo, error) {
	shards, err := s.fs.ReadDir("objects")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []BlobInfo
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		entries, err := s.fs.ReadDir("objects/" + shard.Name())
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out = append(out, BlobInfo{
				Integrity: shard.Name() + e.Name(),
				Size:      e.Size(),
				ModTime:   e.ModTime(),
			})
		}
	}
	return out, nil
}

// VerifyIntegrity reads the blob stored under integrity and reports
// whether its content still hashes to that integrity value.
func (s *Store) VerifyIntegrity(integrity string) (bool, error) {
	p, err := integrityPath(integrity)
	if err != nil {
		return false, err
	}
	data, err := s.read(p)
	if err != nil {
		return false, err
	}
	return sum(data) == integrity, nil
}

// RemoveIntegrity deletes the blob stored under its content integrity,
// used by a GC pass once a blob is determined unreferenced. It leaves any
// key-addressed copy of the same bytes in place — a separate concern, not
// addressed by this method (spec §3: "blobs retained until a separate
// garbage-collection pass frees them").
func (s *Store) RemoveIntegrity(integrity string) error {
	p, err := integrityPath(integrity)
	if err != nil {
		return err
	}
	return s.fs.Remove(p)
}

func parentDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
