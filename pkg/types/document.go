package types

// FetchedFile is the decoded content of one path retrieved from the source repository
type FetchedFile struct {
	Path       string
	Hash       string
	Content    string
	Size       int64
	SourceURL  string // web URL for humans
	ContentURL string // raw download URL
}

// Document is an embeddable record built from a FetchedFile
type Document struct {
	ID       string
	Path     string
	Content  string
	Metadata DocumentMetadata
}

// DocumentMetadata travels with every vector record produced from a document
type DocumentMetadata struct {
	RepositoryID string `json:"repository_id"`
	Branch       string `json:"branch"`
	Hash         string `json:"hash"`
	Size         int64  `json:"size"`
	SourceURL    string `json:"source_url,omitempty"`
	ContentURL   string `json:"content_url,omitempty"`
	FileName     string `json:"file_name"`
	Extension    string `json:"extension,omitempty"`
	Directory    string `json:"directory,omitempty"`
}

// Fingerprint returns the (path, hash) pair the catalog records for this document
func (d *Document) Fingerprint() FileFingerprint {
	return FileFingerprint{Path: d.Path, Hash: d.Metadata.Hash}
}

// Map flattens the metadata into string pairs for vector store payloads
func (m DocumentMetadata) Map() map[string]string {
	out := map[string]string{
		"repository_id": m.RepositoryID,
		"branch":        m.Branch,
		"hash":          m.Hash,
		"file_name":     m.FileName,
	}
	if m.SourceURL != "" {
		out["source_url"] = m.SourceURL
	}
	if m.ContentURL != "" {
		out["content_url"] = m.ContentURL
	}
	if m.Extension != "" {
		out["extension"] = m.Extension
	}
	if m.Directory != "" {
		out["directory"] = m.Directory
	}
	return out
}
