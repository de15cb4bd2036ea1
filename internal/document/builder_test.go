package document

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsync-mcp/pkg/types"
)

// TestDocumentID is deterministic and distinguishes every key component
func TestDocumentID(t *testing.T) {
	id := DocumentID("octo/docs", "main", "docs/api.md")
	assert.Equal(t, id, DocumentID("octo/docs", "main", "docs/api.md"))

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())

	assert.NotEqual(t, id, DocumentID("octo/docs", "dev", "docs/api.md"))
	assert.NotEqual(t, id, DocumentID("octo/other", "main", "docs/api.md"))
	assert.NotEqual(t, id, DocumentID("octo/docs", "main", "docs/API.md"))
}

// TestChunkID differs per chunk index and from the document id
func TestChunkID(t *testing.T) {
	c0 := ChunkID("octo/docs", "main", "a.md", 0)
	c1 := ChunkID("octo/docs", "main", "a.md", 1)

	assert.NotEqual(t, c0, c1)
	assert.NotEqual(t, c0, DocumentID("octo/docs", "main", "a.md"))
	assert.Equal(t, c1, ChunkID("octo/docs", "main", "a.md", 1))
}

// TestBuilder_Build attaches repository metadata
func TestBuilder_Build(t *testing.T) {
	f := types.FetchedFile{
		Path:       "docs/guide/Intro.MD",
		Hash:       "h1",
		Content:    "# Intro",
		Size:       7,
		SourceURL:  "https://github.com/octo/docs/blob/main/docs/guide/Intro.MD",
		ContentURL: "https://raw.githubusercontent.com/octo/docs/main/docs/guide/Intro.MD",
	}

	doc, err := NewBuilder().Build(f, "octo/docs", "main")
	require.NoError(t, err)

	assert.Equal(t, DocumentID("octo/docs", "main", f.Path), doc.ID)
	assert.Equal(t, f.Path, doc.Path)
	assert.Equal(t, f.Content, doc.Content)
	assert.Equal(t, types.DocumentMetadata{
		RepositoryID: "octo/docs",
		Branch:       "main",
		Hash:         "h1",
		Size:         7,
		SourceURL:    f.SourceURL,
		ContentURL:   f.ContentURL,
		FileName:     "Intro.MD",
		Extension:    ".md",
		Directory:    "docs/guide",
	}, doc.Metadata)
	assert.Equal(t, types.FileFingerprint{Path: f.Path, Hash: "h1"}, doc.Fingerprint())
}

// TestBuilder_Build_RootFile leaves directory empty and derives size from content
func TestBuilder_Build_RootFile(t *testing.T) {
	doc, err := NewBuilder().Build(types.FetchedFile{Path: "README.md", Hash: "h", Content: "hello"}, "octo/docs", "main")
	require.NoError(t, err)
	assert.Empty(t, doc.Metadata.Directory)
	assert.Equal(t, int64(5), doc.Metadata.Size)
}

// TestBuilder_Build_Malformed rejects a missing path or hash
func TestBuilder_Build_Malformed(t *testing.T) {
	b := NewBuilder()

	_, err := b.Build(types.FetchedFile{Path: "", Hash: "h", Content: "x"}, "octo/docs", "main")
	assert.ErrorIs(t, err, types.ErrMissingPath)

	_, err = b.Build(types.FetchedFile{Path: "a.md", Content: "x"}, "octo/docs", "main")
	assert.ErrorIs(t, err, types.ErrMalformedFingerprint)
}

// TestBuilder_Build_EmptyFile accepts an empty document
func TestBuilder_Build_EmptyFile(t *testing.T) {
	doc, err := NewBuilder().Build(types.FetchedFile{Path: "empty.md", Hash: "e69de29"}, "octo/docs", "main")
	require.NoError(t, err)
	assert.Empty(t, doc.Content)
	assert.Equal(t, int64(0), doc.Metadata.Size)
}

// TestBuilder_BuildAll isolates malformed files
func TestBuilder_BuildAll(t *testing.T) {
	docs, failed := NewBuilder().BuildAll([]types.FetchedFile{
		{Path: "a.md", Hash: "1", Content: "a"},
		{Path: "b.md", Hash: "", Content: "b"},
		{Path: "c.md", Hash: "3", Content: "c"},
	}, "octo/docs", "main")

	require.Len(t, docs, 2)
	assert.Equal(t, "a.md", docs[0].Path)
	assert.Equal(t, "c.md", docs[1].Path)
	require.Len(t, failed, 1)
	assert.Equal(t, "b.md", failed[0].Path)
	assert.Equal(t, types.StepBuild, failed[0].Step)
}
