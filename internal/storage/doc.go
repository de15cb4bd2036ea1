// Package storage persists the sync catalog and, when no external vector
// database is configured, the chunk vectors themselves.
//
// # Database Schema
//
// Tables:
//   - repositories: one row per tracked repository (branch, file count, status)
//   - repository_files: path -> content hash map of each repository
//   - vector_records: embedded chunks keyed by (repository, branch, path, chunk index)
//   - schema_version: applied migrations
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("~/.docsync/docsync.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	entry, ok, err := store.GetEntry(ctx, "acme/docs")
//
// # Merge Discipline
//
// MergeEntry is the only write path of a sync. It adds or overwrites the
// fingerprints in added, removes the paths in deleted and leaves every other
// path as it was, all in one transaction. A path that failed during a sync is
// in neither list, so its previous fingerprint survives and the next sync
// classifies it again.
//
// # Vector Records
//
// ReplacePath upserts chunks 0..n-1 of a path and deletes any chunk index
// >= n in the same transaction, so a file that shrank leaves no orphaned
// vectors. Search is a brute-force cosine scan ranked in Go.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags sqlite_vec switches to github.com/mattn/go-sqlite3 and requires CGO.
// DriverName and BuildMode report which one is compiled in.
package storage
