package types

import (
	"fmt"
	"strings"
)

// RepositoryRef names a repository on the source host
type RepositoryRef struct {
	Owner string
	Name  string
}

// ID returns the repository identifier used as the catalog key ("owner/name")
func (r RepositoryRef) ID() string {
	return r.Owner + "/" + r.Name
}

func (r RepositoryRef) String() string {
	return r.ID()
}

// ParseRepositoryRef accepts "owner/name", "github.com/owner/name" and full
// https URLs, with or without a trailing ".git". Path segments after the
// repository name (for example "/tree/main/docs") are ignored.
func ParseRepositoryRef(s string) (RepositoryRef, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return RepositoryRef{}, fmt.Errorf("%w: empty repository", ErrInvalidRepository)
	}

	trimmed := raw
	for _, prefix := range []string{"https://", "http://"} {
		trimmed = strings.TrimPrefix(trimmed, prefix)
	}
	trimmed = strings.TrimPrefix(trimmed, "www.")
	trimmed = strings.TrimPrefix(trimmed, "github.com/")
	trimmed = strings.Trim(trimmed, "/")

	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return RepositoryRef{}, fmt.Errorf("%w: %q", ErrInvalidRepository, raw)
	}
	if strings.Contains(parts[0], ".") && len(parts) > 2 {
		// some other host, e.g. gitlab.com/owner/name
		return RepositoryRef{}, fmt.Errorf("%w: unsupported host in %q", ErrInvalidRepository, raw)
	}

	name := strings.TrimSuffix(parts[1], ".git")
	if name == "" {
		return RepositoryRef{}, fmt.Errorf("%w: %q", ErrInvalidRepository, raw)
	}

	return RepositoryRef{Owner: parts[0], Name: name}, nil
}
