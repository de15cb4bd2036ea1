// Package source reads documentation files from a GitHub repository.
//
// Client wraps the two REST endpoints the sync engine needs: the recursive
// git tree listing (paths plus blob hashes) and the contents endpoint
// (base64 encoded file bodies). Every request passes through a token bucket
// limiter and every non-2xx response is mapped to one of the error kinds in
// pkg/types so the orchestrator can tell fatal failures (bad credentials,
// missing repository) from per-file ones.
//
// # Basic Usage
//
//	client := source.NewClient(source.Config{Token: os.Getenv("GITHUB_TOKEN")}, logger)
//	scanner := source.NewScanner(client, logger)
//
//	files, err := scanner.Scan(ctx, ref, "main", []string{".md", ".mdx"})
//	if err != nil {
//	    var notFound *types.RepositoryNotFoundError
//	    if errors.As(err, &notFound) {
//	        // repository or branch does not exist
//	    }
//	}
//
//	content, err := client.GetFileContent(ctx, ref, "main", files[0].Path)
//
// # Content Decoding
//
// File bodies must decode to valid UTF-8 text. Binary files or invalid
// encodings fail with ErrBinaryContent or ErrDecode instead of being
// truncated or patched with replacement characters.
package source
