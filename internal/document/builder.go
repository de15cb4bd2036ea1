// Package document turns fetched files into embeddable documents and derives
// the deterministic identifiers used by the vector stores.
package document

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/docsync-mcp/pkg/types"
)

// Namespace seeds every UUIDv5 derived by this package
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/dshills/docsync-mcp"))

// DocumentID derives the stable id of (repositoryID, branch, path)
func DocumentID(repositoryID, branch, filePath string) string {
	return uuid.NewSHA1(Namespace, []byte(key(repositoryID, branch, filePath))).String()
}

// ChunkID derives the stable point id of one chunk of a document
func ChunkID(repositoryID, branch, filePath string, index int) string {
	name := key(repositoryID, branch, filePath) + "#" + strconv.Itoa(index)
	return uuid.NewSHA1(Namespace, []byte(name)).String()
}

func key(repositoryID, branch, filePath string) string {
	return repositoryID + ":" + branch + ":" + filePath
}

// Builder converts fetched files into documents
type Builder struct{}

// NewBuilder creates a Builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Build attaches repository metadata to a fetched file. It fails only on a
// missing path or content hash. An empty file is a valid document with no
// chunks, so it is tracked instead of being refetched on every sync.
func (b *Builder) Build(f types.FetchedFile, repositoryID, branch string) (types.Document, error) {
	if strings.TrimSpace(f.Path) == "" {
		return types.Document{}, types.ErrMissingPath
	}
	if strings.TrimSpace(f.Hash) == "" {
		return types.Document{}, fmt.Errorf("%w: no hash for %s", types.ErrMalformedFingerprint, f.Path)
	}

	size := f.Size
	if size <= 0 && f.Content != "" {
		size = int64(len(f.Content))
	}

	dir := path.Dir(f.Path)
	if dir == "." {
		dir = ""
	}

	return types.Document{
		ID:      DocumentID(repositoryID, branch, f.Path),
		Path:    f.Path,
		Content: f.Content,
		Metadata: types.DocumentMetadata{
			RepositoryID: repositoryID,
			Branch:       branch,
			Hash:         f.Hash,
			Size:         size,
			SourceURL:    f.SourceURL,
			ContentURL:   f.ContentURL,
			FileName:     path.Base(f.Path),
			Extension:    strings.ToLower(path.Ext(f.Path)),
			Directory:    dir,
		},
	}, nil
}

// BuildAll builds every file, returning failures separately
func (b *Builder) BuildAll(files []types.FetchedFile, repositoryID, branch string) ([]types.Document, []types.FailedPath) {
	docs := make([]types.Document, 0, len(files))
	var failed []types.FailedPath
	for _, f := range files {
		doc, err := b.Build(f, repositoryID, branch)
		if err != nil {
			failed = append(failed, types.FailedPath{Path: f.Path, Step: types.StepBuild, Err: err})
			continue
		}
		docs = append(docs, doc)
	}
	return docs, failed
}
