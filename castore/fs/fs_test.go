package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/nimbusui/buildcache/castore"
)

func TestStorePutGetRoundTrip(t *testing.T) {
	s := NewFromFilesystem(memfs.New())
	ctx := context.Background()
	key := castore.StageKey("sig1", "minify", "proj1", "X")

	if err := s.Put(ctx, key, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	data, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Fatalf("got %q", data)
	}
}

func TestStoreGetMiss(t *testing.T) {
	s := NewFromFilesystem(memfs.New())
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, castore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreGetByIntegrity(t *testing.T) {
	s := NewFromFilesystem(memfs.New())
	ctx := context.Background()
	payload := []byte("content-addressed")
	sum := sha256.Sum256(payload)
	integrity := hex.EncodeToString(sum[:])

	if err := s.Put(ctx, "k", payload); err != nil {
		t.Fatal(err)
	}
	data, err := s.GetByIntegrity(ctx, integrity)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(payload) {
		t.Fatalf("got %q", data)
	}
}

func TestObjectsListsAllBlobs(t *testing.T) {
	s := NewFromFilesystem(memfs.New())
	ctx := context.Background()
	for _, payload := range []string{"one", "two", "three"} {
		if err := s.Put(ctx, "key-"+payload, []byte(payload)); err != nil {
			t.Fatal(err)
		}
	}
	blobs, err := s.Objects()
	if err != nil {
		t.Fatal(err)
	}
	if len(blobs) != 3 {
		t.Fatalf("expected 3 blobs, got %d", len(blobs))
	}
}

func TestVerifyIntegrityDetectsCorruption(t *testing.T) {
	s := NewFromFilesystem(memfs.New())
	ctx := context.Background()
	payload := []byte("verify-me")
	sum := sha256.Sum256(payload)
	integrity := hex.EncodeToString(sum[:])

	if err := s.Put(ctx, "k", payload); err != nil {
		t.Fatal(err)
	}
	ok, err := s.VerifyIntegrity(integrity)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected integrity to verify")
	}

	p, err := integrityPath(integrity)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.writeAtomic(p, []byte("corrupted")); err != nil {
		t.Fatal(err)
	}
	ok, err = s.VerifyIntegrity(integrity)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected corrupted blob to fail verification")
	}
}

func TestRemoveIntegrity(t *testing.T) {
	s := NewFromFilesystem(memfs.New())
	ctx := context.Background()
	payload := []byte("removable")
	sum := sha256.Sum256(payload)
	integrity := hex.EncodeToString(sum[:])

	if err := s.Put(ctx, "k", payload); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveIntegrity(integrity); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetByIntegrity(ctx, integrity); !errors.Is(err, castore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}
