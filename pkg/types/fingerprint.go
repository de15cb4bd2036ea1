package types

import (
	"fmt"
	"strings"
	"time"
)

// FileFingerprint identifies the content of one file in a repository branch.
// Equal hashes imply equal content.
type FileFingerprint struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Validate checks that the fingerprint is well formed
func (f FileFingerprint) Validate() error {
	if strings.TrimSpace(f.Path) == "" {
		return fmt.Errorf("%w: empty path", ErrMalformedFingerprint)
	}
	if strings.TrimSpace(f.Hash) == "" {
		return fmt.Errorf("%w: empty hash for %s", ErrMalformedFingerprint, f.Path)
	}
	if strings.HasPrefix(f.Path, "/") {
		return fmt.Errorf("%w: absolute path %s", ErrMalformedFingerprint, f.Path)
	}
	for _, segment := range strings.Split(f.Path, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: parent segment in %s", ErrMalformedFingerprint, f.Path)
		}
	}
	return nil
}

// RepositorySnapshot is the result of one scan. It is never persisted in full.
type RepositorySnapshot struct {
	RepositoryID string
	Branch       string
	Files        []FileFingerprint
	ScannedAt    time.Time
}

// Paths returns the snapshot's paths in scan order
func (s *RepositorySnapshot) Paths() []string {
	paths := make([]string, len(s.Files))
	for i, f := range s.Files {
		paths[i] = f.Path
	}
	return paths
}
