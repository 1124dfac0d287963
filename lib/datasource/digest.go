// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 keyed hash.
type Digest [32]byte

// String returns the lowercase hex encoding.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Domain keys separate file digests from tree digests. The bytes are
// the ASCII domain name, zero-padded to 32.
var (
	fileDomainKey = [32]byte{
		'f', 'l', 'e', 'e', 't', 'c', 'h', 'e', 'c', 'k', '.', 's', 't', 'a', 't', 'e', '.',
		'f', 'i', 'l', 'e',
	}
	treeDomainKey = [32]byte{
		'f', 'l', 'e', 'e', 't', 'c', 'h', 'e', 'c', 'k', '.', 's', 't', 'a', 't', 'e', '.',
		't', 'r', 'e', 'e',
	}
)

func keyedHasher(key [32]byte) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("datasource: blake3 keyed hasher: " + err.Error())
	}
	return hasher
}

// HashFile streams the file at path through the file-domain hash.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := keyedHasher(fileDomainKey)
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// Manifest maps slash-separated paths relative to a tree root to the
// digests of the regular files there.
type Manifest map[string]Digest

// HashTree hashes every regular file under root. Symlinks and other
// special files are skipped.
func HashTree(root string) (Manifest, error) {
	manifest := make(Manifest)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		digest, err := HashFile(path)
		if err != nil {
			return err
		}
		manifest[filepath.ToSlash(relative)] = digest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// Digest hashes the manifest's sorted (path, file digest) pairs into
// one tree digest.
func (m Manifest) Digest() Digest {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	hasher := keyedHasher(treeDomainKey)
	for _, path := range paths {
		digest := m[path]
		hasher.Write([]byte(path))
		hasher.Write([]byte{0})
		hasher.Write(digest[:])
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}
