// Package detector classifies repository paths into new, modified, deleted
// and unchanged by comparing a fresh scan with the catalog's recorded hashes.
// Detect is pure: no I/O, no clock, deterministic output order.
package detector

import (
	"sort"

	"github.com/dshills/docsync-mcp/pkg/types"
)

// Detect partitions the union of current and stored paths. Every path lands
// in exactly one list; lists are sorted by path. Deleted entries carry the
// hash recorded in the catalog.
//
// A duplicate path in current is rejected with a *types.ValidationError
// wrapping types.ErrDuplicatePath rather than resolved silently.
func Detect(current []types.FileFingerprint, stored map[string]string) (*types.ChangeSet, error) {
	if err := Validate(current); err != nil {
		return nil, err
	}

	cs := &types.ChangeSet{
		New:       []types.FileFingerprint{},
		Modified:  []types.FileFingerprint{},
		Deleted:   []types.FileFingerprint{},
		Unchanged: []types.FileFingerprint{},
	}

	seen := make(map[string]struct{}, len(current))
	for _, fp := range current {
		seen[fp.Path] = struct{}{}

		storedHash, ok := stored[fp.Path]
		switch {
		case !ok:
			cs.New = append(cs.New, fp)
		case storedHash != fp.Hash:
			cs.Modified = append(cs.Modified, fp)
		default:
			cs.Unchanged = append(cs.Unchanged, fp)
		}
	}

	for path, hash := range stored {
		if _, ok := seen[path]; !ok {
			cs.Deleted = append(cs.Deleted, types.FileFingerprint{Path: path, Hash: hash})
		}
	}

	sortByPath(cs.New)
	sortByPath(cs.Modified)
	sortByPath(cs.Deleted)
	sortByPath(cs.Unchanged)

	return cs, nil
}

// Validate rejects malformed fingerprints and duplicate paths in a scan result
func Validate(current []types.FileFingerprint) error {
	seen := make(map[string]struct{}, len(current))
	for _, fp := range current {
		if err := fp.Validate(); err != nil {
			return &types.ValidationError{Path: fp.Path, Err: err}
		}
		if _, dup := seen[fp.Path]; dup {
			return &types.ValidationError{Path: fp.Path, Err: types.ErrDuplicatePath}
		}
		seen[fp.Path] = struct{}{}
	}
	return nil
}

func sortByPath(files []types.FileFingerprint) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
}
