package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/docsync-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord is returned when a vector record fails validation
	ErrInvalidRecord = errors.New("invalid vector record")
)

// CatalogStore persists the per-repository fingerprint map that change
// detection diffs against. Implementations must apply MergeEntry atomically.
type CatalogStore interface {
	// GetEntry returns the entry for repositoryID; ok is false when the
	// repository has never been synced
	GetEntry(ctx context.Context, repositoryID string) (entry *types.CatalogEntry, ok bool, err error)

	// MergeEntry records added fingerprints and removes deleted paths.
	// Paths in neither list are left untouched.
	MergeEntry(ctx context.Context, repositoryID, branch string, added []types.FileFingerprint, deleted []string) error

	// SetStatus overrides the status recorded by the last merge,
	// ErrNotFound if absent
	SetStatus(ctx context.Context, repositoryID, status string) error

	// DeleteEntry removes the entry and its files, ErrNotFound if absent
	DeleteEntry(ctx context.Context, repositoryID string) error

	// ListEntries returns every tracked repository, ordered by id
	ListEntries(ctx context.Context) ([]types.CatalogSummary, error)

	// ListFiles returns the tracked files of one repository, ordered by path
	ListFiles(ctx context.Context, repositoryID string) ([]types.CatalogFile, error)

	// Stats returns catalog-wide counters
	Stats(ctx context.Context) (*CatalogStats, error)

	Close() error
}

// VectorStore holds the chunk vectors of every ingested document
type VectorStore interface {
	// ReplacePath upserts records (chunk indexes 0..n-1) and then deletes any
	// record of the same path with chunk index >= n
	ReplacePath(ctx context.Context, key PathKey, records []VectorRecord) error

	// Upsert writes records keyed by their point id
	Upsert(ctx context.Context, records []VectorRecord) error

	// DeleteByPath removes every record of one path and reports how many
	// were removed. Deleting an absent path is not an error.
	DeleteByPath(ctx context.Context, key PathKey) (int, error)

	// DeleteByRepository removes every record of a repository, across branches
	DeleteByRepository(ctx context.Context, repositoryID string) (int, error)

	// CountByPath returns the number of records stored for a path
	CountByPath(ctx context.Context, key PathKey) (int, error)

	// Search returns the topK records most similar to vector
	Search(ctx context.Context, vector []float32, filter SearchFilter, topK int) ([]SearchResult, error)

	Close() error
}

// PathKey addresses every record produced from one file
type PathKey struct {
	RepositoryID string
	Branch       string
	Path         string
}

func (k PathKey) String() string {
	return k.RepositoryID + "@" + k.Branch + ":" + k.Path
}

// VectorRecord is one embedded chunk
type VectorRecord struct {
	ID         string // deterministic point id
	DocumentID string
	Key        PathKey
	ChunkIndex int
	Content    string
	Vector     []float32
	Metadata   map[string]string
}

// Validate checks the fields every store relies on
func (r *VectorRecord) Validate() error {
	switch {
	case r.ID == "":
		return errors.Join(ErrInvalidRecord, errors.New("missing id"))
	case r.Key.RepositoryID == "" || r.Key.Path == "":
		return errors.Join(ErrInvalidRecord, errors.New("missing repository or path"))
	case r.ChunkIndex < 0:
		return errors.Join(ErrInvalidRecord, errors.New("negative chunk index"))
	case len(r.Vector) == 0:
		return errors.Join(ErrInvalidRecord, errors.New("empty vector"))
	}
	return nil
}

// SearchFilter narrows a similarity search. Empty fields match everything.
type SearchFilter struct {
	RepositoryID string
	Branch       string
	PathPrefix   string
	MinScore     *float64 // nil keeps every score, including negative ones
}

// Threshold returns a MinScore value
func Threshold(score float64) *float64 {
	return &score
}

// SearchResult is one ranked record
type SearchResult struct {
	ID         string
	DocumentID string
	Key        PathKey
	ChunkIndex int
	Content    string
	Score      float64
	Metadata   map[string]string
}

// CatalogStats summarizes the catalog
type CatalogStats struct {
	Repositories  int       `json:"repositories"`
	TrackedFiles  int       `json:"tracked_files"`
	VectorRecords int       `json:"vector_records"`
	LastUpdatedAt time.Time `json:"last_updated_at,omitempty"`
}
