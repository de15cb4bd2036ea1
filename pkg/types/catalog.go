package types

import "time"

// Catalog entry statuses
const (
	CatalogStatusComplete = "complete"
	CatalogStatusPartial  = "partial"
)

// CatalogEntry is the durable per-repository record of tracked fingerprints
type CatalogEntry struct {
	RepositoryID    string
	Branch          string
	Files           map[string]string // path -> hash
	FileCount       int
	Status          string
	TrackingEnabled bool
	LastUpdatedAt   time.Time
	CreatedAt       time.Time
}

// Summary drops the file map
func (e *CatalogEntry) Summary() CatalogSummary {
	return CatalogSummary{
		RepositoryID:    e.RepositoryID,
		Branch:          e.Branch,
		FileCount:       e.FileCount,
		Status:          e.Status,
		TrackingEnabled: e.TrackingEnabled,
		LastUpdatedAt:   e.LastUpdatedAt,
	}
}

// CatalogSummary is the listing form of a CatalogEntry
type CatalogSummary struct {
	RepositoryID    string    `json:"repository_id"`
	Branch          string    `json:"branch"`
	FileCount       int       `json:"file_count"`
	Status          string    `json:"status"`
	TrackingEnabled bool      `json:"tracking_enabled"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

// CatalogFile is one tracked path of a repository
type CatalogFile struct {
	Path           string    `json:"path"`
	Hash           string    `json:"hash"`
	LastIngestedAt time.Time `json:"last_ingested_at"`
}
