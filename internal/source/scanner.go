package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/dshills/docsync-mcp/pkg/types"
)

// DefaultExtensions is the documentation whitelist used when no filter is given
var DefaultExtensions = []string{".md", ".mdx"}

// TreeLister lists the blobs of a branch
type TreeLister interface {
	ListTree(ctx context.Context, ref types.RepositoryRef, branch string) ([]TreeEntry, error)
}

// Scanner produces the fingerprints of every tracked file in a branch
type Scanner struct {
	lister TreeLister
	logger *slog.Logger
}

// NewScanner creates a scanner over lister
func NewScanner(lister TreeLister, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scanner{lister: lister, logger: logger}
}

// Scan lists all blobs under branch whose extension is in extensions.
// The result is sorted by path. A missing repository or branch is reported
// as *types.RepositoryNotFoundError.
func (s *Scanner) Scan(ctx context.Context, ref types.RepositoryRef, branch string, extensions []string) ([]types.FileFingerprint, error) {
	entries, err := s.lister.ListTree(ctx, ref, branch)
	if err != nil {
		var notFound *types.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &types.RepositoryNotFoundError{Repository: ref.ID(), Branch: branch, Err: err}
		}
		return nil, fmt.Errorf("list tree: %w", err)
	}

	filter := NormalizeExtensions(extensions)
	files := make([]types.FileFingerprint, 0, len(entries))
	skipped := 0
	for _, entry := range entries {
		if !MatchesExtension(entry.Path, filter) {
			skipped++
			continue
		}
		files = append(files, types.FileFingerprint{Path: entry.Path, Hash: entry.SHA})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	s.logger.Debug("scan complete",
		"repository", ref.ID(), "branch", branch,
		"matched", len(files), "skipped", skipped)

	return files, nil
}

// NormalizeExtensions lower-cases extensions and adds a leading dot. An
// empty list yields DefaultExtensions.
func NormalizeExtensions(extensions []string) []string {
	out := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultExtensions...)
	}
	return out
}

// MatchesExtension reports whether p ends with one of the normalized extensions
func MatchesExtension(p string, extensions []string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, want := range extensions {
		if ext == want {
			return true
		}
	}
	return false
}
