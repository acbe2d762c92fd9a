// Package roothash provides a pluggable hash-algorithm registry used where
// the cache core combines content hashes in hashtree (resource and
// directory node hashing). projectcache's build signature hashes with
// crypto/sha256 directly, not through this registry.
//
// The registry pattern mirrors go-git's plumbing/hash package: algorithms
// are registered against a crypto.Hash constant and selected explicitly,
// so swapping the default never happens implicitly inside a single process.
package roothash

import (
	"crypto"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// ErrUnsupportedAlgorithm is returned by New for an unregistered algorithm.
var ErrUnsupportedAlgorithm = errors.New("roothash: unsupported algorithm")

var algos = map[crypto.Hash]func() hash.Hash{}

func init() {
	reset()
}

func reset() {
	algos[crypto.SHA256] = crypto.SHA256.New
	algos[crypto.BLAKE2b_256] = func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	}
}

// Default is the algorithm used when callers don't pin a specific one.
const Default = crypto.SHA256

// Register overrides or adds the hash function used for a given algorithm.
func Register(h crypto.Hash, f func() hash.Hash) error {
	if f == nil {
		return fmt.Errorf("roothash: cannot register nil hash func for %v", h)
	}
	algos[h] = f
	return nil
}

// New returns a new hash.Hash for the given algorithm.
func New(h crypto.Hash) (hash.Hash, error) {
	f, ok := algos[h]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, h)
	}
	return f(), nil
}

// Sum hashes data with the given algorithm and returns the hex digest.
func Sum(h crypto.Hash, data []byte) (string, error) {
	hh, err := New(h)
	if err != nil {
		return "", err
	}
	hh.Write(data)
	return fmt.Sprintf("%x", hh.Sum(nil)), nil
}
