package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facebookgo/clock"

	"github.com/dshills/docsync-mcp/pkg/types"
)

// SQLiteStorage implements CatalogStore and VectorStore on one SQLite database
type SQLiteStorage struct {
	db    *sql.DB
	clock clock.Clock
}

// Option configures a SQLiteStorage
type Option func(*SQLiteStorage)

// WithClock sets the clock used for catalog timestamps
func WithClock(c clock.Clock) Option {
	return func(s *SQLiteStorage) {
		s.clock = c
	}
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", types.ErrCatalogUnavailable, err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &SQLiteStorage{db: db, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// inTx runs fn inside a transaction, rolling back on error
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", types.ErrCatalogUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) now() string {
	return formatTime(s.clock.Now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts our own format and SQLite's CURRENT_TIMESTAMP format
func parseTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Catalog operations

// GetEntry loads the catalog entry and its file map
func (s *SQLiteStorage) GetEntry(ctx context.Context, repositoryID string) (*types.CatalogEntry, bool, error) {
	entry, err := s.getEntryWithQuerier(ctx, s.db, repositoryID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *SQLiteStorage) getEntryWithQuerier(ctx context.Context, q querier, repositoryID string) (*types.CatalogEntry, error) {
	query := `
		SELECT repository_id, branch, file_count, status, tracking_enabled, last_updated_at, created_at
		FROM repositories
		WHERE repository_id = ?
	`
	entry := &types.CatalogEntry{}
	var lastUpdated, created sql.NullString
	err := q.QueryRowContext(ctx, query, repositoryID).Scan(
		&entry.RepositoryID, &entry.Branch, &entry.FileCount, &entry.Status,
		&entry.TrackingEnabled, &lastUpdated, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read repository %s: %v", types.ErrCatalogUnavailable, repositoryID, err)
	}
	entry.LastUpdatedAt = parseTime(lastUpdated)
	entry.CreatedAt = parseTime(created)

	rows, err := q.QueryContext(ctx, "SELECT path, hash FROM repository_files WHERE repository_id = ?", repositoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: read files of %s: %v", types.ErrCatalogUnavailable, repositoryID, err)
	}
	defer func() { _ = rows.Close() }()

	entry.Files = make(map[string]string, entry.FileCount)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		entry.Files[path] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entry, nil
}

// MergeEntry applies one sync's successful additions and deletions in a
// single transaction. The entry is created on first merge.
func (s *SQLiteStorage) MergeEntry(ctx context.Context, repositoryID, branch string, added []types.FileFingerprint, deleted []string) error {
	if repositoryID == "" {
		return fmt.Errorf("%w: empty repository id", types.ErrInvalidRepository)
	}
	for _, fp := range added {
		if err := fp.Validate(); err != nil {
			return err
		}
	}

	now := s.now()
	return s.inTx(ctx, func(q querier) error {
		// files tracked under another branch never carry over
		clearOther := `
			DELETE FROM repository_files
			WHERE repository_id = ?
			AND EXISTS (SELECT 1 FROM repositories WHERE repository_id = ? AND branch <> ?)
		`
		if _, err := q.ExecContext(ctx, clearOther, repositoryID, repositoryID, branch); err != nil {
			return fmt.Errorf("failed to clear files of previous branch: %w", err)
		}

		upsertRepo := `
			INSERT INTO repositories (repository_id, branch, file_count, status, tracking_enabled, last_updated_at, created_at)
			VALUES (?, ?, 0, ?, 1, ?, ?)
			ON CONFLICT(repository_id) DO UPDATE SET
				branch = excluded.branch,
				status = excluded.status,
				last_updated_at = excluded.last_updated_at
		`
		if _, err := q.ExecContext(ctx, upsertRepo, repositoryID, branch, types.CatalogStatusComplete, now, now); err != nil {
			return fmt.Errorf("failed to upsert repository: %w", err)
		}

		upsertFile := `
			INSERT INTO repository_files (repository_id, path, hash, last_ingested_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(repository_id, path) DO UPDATE SET
				hash = excluded.hash,
				last_ingested_at = excluded.last_ingested_at
		`
		for _, fp := range added {
			if _, err := q.ExecContext(ctx, upsertFile, repositoryID, fp.Path, fp.Hash, now); err != nil {
				return fmt.Errorf("failed to upsert file %s: %w", fp.Path, err)
			}
		}

		for _, path := range deleted {
			if _, err := q.ExecContext(ctx, "DELETE FROM repository_files WHERE repository_id = ? AND path = ?", repositoryID, path); err != nil {
				return fmt.Errorf("failed to delete file %s: %w", path, err)
			}
		}

		recount := `
			UPDATE repositories
			SET file_count = (SELECT COUNT(*) FROM repository_files WHERE repository_id = ?)
			WHERE repository_id = ?
		`
		if _, err := q.ExecContext(ctx, recount, repositoryID, repositoryID); err != nil {
			return fmt.Errorf("failed to update file count: %w", err)
		}
		return nil
	})
}

// SetStatus records whether the last sync left failed paths behind
func (s *SQLiteStorage) SetStatus(ctx context.Context, repositoryID, status string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE repositories SET status = ? WHERE repository_id = ?", status, repositoryID)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEntry removes the repository row; its files cascade
func (s *SQLiteStorage) DeleteEntry(ctx context.Context, repositoryID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM repositories WHERE repository_id = ?", repositoryID)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntries returns every tracked repository ordered by id
func (s *SQLiteStorage) ListEntries(ctx context.Context) ([]types.CatalogSummary, error) {
	query := `
		SELECT repository_id, branch, file_count, status, tracking_enabled, last_updated_at
		FROM repositories
		ORDER BY repository_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := []types.CatalogSummary{}
	for rows.Next() {
		var sum types.CatalogSummary
		var lastUpdated sql.NullString
		if err := rows.Scan(&sum.RepositoryID, &sum.Branch, &sum.FileCount, &sum.Status, &sum.TrackingEnabled, &lastUpdated); err != nil {
			return nil, err
		}
		sum.LastUpdatedAt = parseTime(lastUpdated)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// ListFiles returns the tracked files of one repository ordered by path
func (s *SQLiteStorage) ListFiles(ctx context.Context, repositoryID string) ([]types.CatalogFile, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM repositories WHERE repository_id = ?", repositoryID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT path, hash, last_ingested_at FROM repository_files WHERE repository_id = ? ORDER BY path",
		repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := []types.CatalogFile{}
	for rows.Next() {
		var f types.CatalogFile
		var ingested sql.NullString
		if err := rows.Scan(&f.Path, &f.Hash, &ingested); err != nil {
			return nil, err
		}
		f.LastIngestedAt = parseTime(ingested)
		files = append(files, f)
	}
	return files, rows.Err()
}

// Stats returns catalog-wide counters
func (s *SQLiteStorage) Stats(ctx context.Context) (*CatalogStats, error) {
	stats := &CatalogStats{}
	var lastUpdated sql.NullString
	query := `
		SELECT
			(SELECT COUNT(*) FROM repositories),
			(SELECT COUNT(*) FROM repository_files),
			(SELECT COUNT(*) FROM vector_records),
			(SELECT MAX(last_updated_at) FROM repositories)
	`
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.Repositories, &stats.TrackedFiles, &stats.VectorRecords, &lastUpdated); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	stats.LastUpdatedAt = parseTime(lastUpdated)
	return stats, nil
}

// Vector operations

const upsertRecordQuery = `
	INSERT INTO vector_records (point_id, repository_id, branch, path, chunk_index, document_id, content, vector, dimension, metadata, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(point_id) DO UPDATE SET
		document_id = excluded.document_id,
		content = excluded.content,
		vector = excluded.vector,
		dimension = excluded.dimension,
		metadata = excluded.metadata,
		updated_at = excluded.updated_at
`

func (s *SQLiteStorage) upsertRecordsWithQuerier(ctx context.Context, q querier, records []VectorRecord) error {
	now := s.now()
	for i := range records {
		r := &records[i]
		if err := r.Validate(); err != nil {
			return err
		}
		var meta []byte
		if len(r.Metadata) > 0 {
			var err error
			meta, err = json.Marshal(r.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
		}
		// a record moving to a new point id must not collide on the natural key
		if _, err := q.ExecContext(ctx,
			"DELETE FROM vector_records WHERE repository_id = ? AND branch = ? AND path = ? AND chunk_index = ? AND point_id <> ?",
			r.Key.RepositoryID, r.Key.Branch, r.Key.Path, r.ChunkIndex, r.ID); err != nil {
			return fmt.Errorf("failed to clear chunk %d of %s: %w", r.ChunkIndex, r.Key, err)
		}
		if _, err := q.ExecContext(ctx, upsertRecordQuery,
			r.ID, r.Key.RepositoryID, r.Key.Branch, r.Key.Path, r.ChunkIndex, r.DocumentID,
			r.Content, serializeVector(r.Vector), len(r.Vector), string(meta), now); err != nil {
			return fmt.Errorf("failed to upsert chunk %d of %s: %w", r.ChunkIndex, r.Key, err)
		}
	}
	return nil
}

// Upsert writes records keyed by point id
func (s *SQLiteStorage) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.inTx(ctx, func(q querier) error {
		return s.upsertRecordsWithQuerier(ctx, q, records)
	})
}

// ReplacePath upserts the new chunks and drops any higher chunk index left
// over from a longer previous version, in one transaction
func (s *SQLiteStorage) ReplacePath(ctx context.Context, key PathKey, records []VectorRecord) error {
	for i := range records {
		if records[i].Key != key {
			return fmt.Errorf("%w: record %s belongs to %s, not %s", ErrInvalidRecord, records[i].ID, records[i].Key, key)
		}
	}
	return s.inTx(ctx, func(q querier) error {
		if err := s.upsertRecordsWithQuerier(ctx, q, records); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx,
			"DELETE FROM vector_records WHERE repository_id = ? AND branch = ? AND path = ? AND chunk_index >= ?",
			key.RepositoryID, key.Branch, key.Path, len(records))
		if err != nil {
			return fmt.Errorf("failed to trim stale chunks of %s: %w", key, err)
		}
		return nil
	})
}

// DeleteByPath removes every record of one path
func (s *SQLiteStorage) DeleteByPath(ctx context.Context, key PathKey) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM vector_records WHERE repository_id = ? AND branch = ? AND path = ?",
		key.RepositoryID, key.Branch, key.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records of %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// DeleteByRepository removes every record of a repository across branches
func (s *SQLiteStorage) DeleteByRepository(ctx context.Context, repositoryID string) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM vector_records WHERE repository_id = ?", repositoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records of %s: %w", repositoryID, err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// CountByPath returns the number of records stored for a path
func (s *SQLiteStorage) CountByPath(ctx context.Context, key PathKey) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vector_records WHERE repository_id = ? AND branch = ? AND path = ?",
		key.RepositoryID, key.Branch, key.Path).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records of %s: %w", key, err)
	}
	return n, nil
}

// ChunkContents returns the stored chunk texts of a path in chunk order
func (s *SQLiteStorage) ChunkContents(ctx context.Context, key PathKey) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT content FROM vector_records WHERE repository_id = ? AND branch = ? AND path = ? ORDER BY chunk_index",
		key.RepositoryID, key.Branch, key.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records of %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	var contents []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		contents = append(contents, c)
	}
	return contents, rows.Err()
}

// Search ranks every matching record by cosine similarity in Go
func (s *SQLiteStorage) Search(ctx context.Context, vector []float32, filter SearchFilter, topK int) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidRecord)
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	query := `
		SELECT point_id, document_id, repository_id, branch, path, chunk_index, content, vector, metadata
		FROM vector_records
		WHERE dimension = ?
	`
	args := []interface{}{len(vector)}
	query, args = applySearchFilter(query, args, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []candidate
	for rows.Next() {
		var r SearchResult
		var blob []byte
		var meta sql.NullString
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Key.RepositoryID, &r.Key.Branch, &r.Key.Path,
			&r.ChunkIndex, &r.Content, &blob, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		score := cosineSimilarity(vector, deserializeVector(blob))
		if filter.MinScore != nil && score < *filter.MinScore {
			continue
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
			}
		}
		candidates = append(candidates, candidate{result: r, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return topCandidates(candidates, topK), nil
}

// applySearchFilter appends WHERE conditions for the non-empty filter fields
func applySearchFilter(query string, args []interface{}, filter SearchFilter) (string, []interface{}) {
	if filter.RepositoryID != "" {
		query += " AND repository_id = ?"
		args = append(args, filter.RepositoryID)
	}
	if filter.Branch != "" {
		query += " AND branch = ?"
		args = append(args, filter.Branch)
	}
	if filter.PathPrefix != "" {
		query += " AND path LIKE ? ESCAPE '\\'"
		args = append(args, escapeLike(filter.PathPrefix)+"%")
	}
	return query, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
