// Package project derives the project identity that scopes stored records.
//
// The root of a project is the nearest ancestor holding a VCS directory,
// else the nearest ancestor holding a build manifest, else the directory
// itself. The identity is a short hash of that root, so every subdirectory
// of a repository maps to the same records.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// VCSMarkers are looked for first when walking upward.
var VCSMarkers = []string{".git", ".hg", ".svn"}

// ManifestMarkers are looked for when no VCS root exists.
var ManifestMarkers = []string{
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"pom.xml",
	"build.gradle",
	"Gemfile",
	"composer.json",
}

// Identity is the resolved identity of a working directory.
type Identity struct {
	ID   string `json:"id"`
	Root string `json:"root"`
	// Marker is the file or directory that determined Root, empty when the
	// directory itself was used.
	Marker string `json:"marker,omitempty"`
}

// IDFor hashes a root path into a project id: the first 16 hex characters
// of its SHA-256.
func IDFor(root string) string {
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:])[:16]
}

// Resolve computes the identity of dir without caching.
func Resolve(dir string) (Identity, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Identity{}, fmt.Errorf("resolving %q: %w", dir, err)
	}
	abs = filepath.Clean(abs)
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}

	if root, marker, ok := findUp(abs, VCSMarkers); ok {
		return Identity{ID: IDFor(root), Root: root, Marker: marker}, nil
	}
	if root, marker, ok := findUp(abs, ManifestMarkers); ok {
		return Identity{ID: IDFor(root), Root: root, Marker: marker}, nil
	}
	return Identity{ID: IDFor(abs), Root: abs}, nil
}

func findUp(start string, markers []string) (root, marker string, ok bool) {
	dir := start
	for {
		for _, m := range markers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir, m, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", false
		}
		dir = parent
	}
}

// Resolver caches identities per working directory. The zero value is
// ready to use.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]Identity
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the cached identity for dir, computing it on first use.
func (r *Resolver) Resolve(dir string) (Identity, error) {
	key := cacheKey(dir)

	r.mu.Lock()
	if id, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	id, err := Resolve(dir)
	if err != nil {
		return Identity{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.cache = make(map[string]Identity)
	}
	r.cache[key] = id
	return id, nil
}

// Invalidate drops the cached identity for dir.
func (r *Resolver) Invalidate(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey(dir))
}

// Reset drops every cached identity.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = nil
}

// Len reports the number of cached directories.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func cacheKey(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return filepath.Clean(abs)
	}
	return dir
}
