package source

import (
	"fmt"

	"github.com/dshills/docsync-mcp/pkg/types"
)

// WebURL returns the human-facing URL of a file
func WebURL(ref types.RepositoryRef, branch, path string) string {
	return fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", ref.Owner, ref.Name, branch, path)
}

// RawURL returns the raw download URL of a file
func RawURL(ref types.RepositoryRef, branch, path string) string {
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", ref.Owner, ref.Name, branch, path)
}
