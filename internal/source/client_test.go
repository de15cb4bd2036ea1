package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsync-mcp/pkg/types"
)

var testRef = types.RepositoryRef{Owner: "octo", Name: "docs"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Token: "secret", RequestsPerSecond: 1000, Burst: 1000}, nil)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestClient_ListTree returns only blobs and sends the expected headers
func TestClient_ListTree(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/docs/git/trees/main", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, apiVersion, r.Header.Get("X-GitHub-Api-Version"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sha": "root",
			"tree": []map[string]interface{}{
				{"path": "README.md", "type": "blob", "sha": "h1", "size": 10},
				{"path": "docs", "type": "tree", "sha": "t1"},
				{"path": "docs/api.md", "type": "blob", "sha": "h2", "size": 20},
			},
			"truncated": false,
		})
	})

	entries, err := client.ListTree(context.Background(), testRef, "main")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TreeEntry{Path: "README.md", Type: "blob", SHA: "h1", Size: 10}, entries[0])
	assert.Equal(t, "docs/api.md", entries[1].Path)
}

// TestClient_GetFileContent decodes base64 bodies and keeps metadata
func TestClient_GetFileContent(t *testing.T) {
	body := "# Title\n\nSome text.\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	// GitHub wraps base64 at 60 columns
	wrapped := encoded[:10] + "\n" + encoded[10:]

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/docs/contents/docs/guide intro.md", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"type":         "file",
			"path":         "docs/guide intro.md",
			"content":      wrapped,
			"encoding":     "base64",
			"sha":          "abc123",
			"size":         len(body),
			"html_url":     "https://github.com/octo/docs/blob/main/docs/guide%20intro.md",
			"download_url": "https://raw.githubusercontent.com/octo/docs/main/docs/guide%20intro.md",
		})
	})

	fc, err := client.GetFileContent(context.Background(), testRef, "main", "docs/guide intro.md")
	require.NoError(t, err)
	assert.Equal(t, body, fc.Content)
	assert.Equal(t, "abc123", fc.SHA)
	assert.Equal(t, int64(len(body)), fc.Size)
	assert.Equal(t, "base64", fc.Encoding)
	assert.Contains(t, fc.HTMLURL, "/blob/main/")
}

// TestClient_GetFileContent_LargeFile follows download_url when content is not inlined
func TestClient_GetFileContent_LargeFile(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/raw/big.md" {
			assert.Equal(t, "application/vnd.github.raw", r.Header.Get("Accept"))
			_, _ = w.Write([]byte("large body"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"type":         "file",
			"path":         "big.md",
			"content":      "",
			"encoding":     "none",
			"sha":          "big1",
			"size":         2 << 20,
			"download_url": srvURL + "/raw/big.md",
		})
	}))
	defer srv.Close()
	srvURL = srv.URL

	client := NewClient(Config{BaseURL: srv.URL}, nil)
	fc, err := client.GetFileContent(context.Background(), testRef, "main", "big.md")
	require.NoError(t, err)
	assert.Equal(t, "large body", fc.Content)
	assert.Equal(t, "big1", fc.SHA)
}

// TestClient_GetFileContent_Binary fails instead of returning garbage
func TestClient_GetFileContent_Binary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"type":     "file",
			"content":  base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x00, 0x01}),
			"encoding": "base64",
			"sha":      "bin",
		})
	})

	_, err := client.GetFileContent(context.Background(), testRef, "main", "logo.md")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinaryContent)
}

// TestClient_GetFileContent_Directory rejects non-file entries
func TestClient_GetFileContent_Directory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"type": "submodule", "path": "vendor.md"})
	})

	_, err := client.GetFileContent(context.Background(), testRef, "main", "vendor.md")
	assert.ErrorIs(t, err, ErrNotAFile)
}

// TestClient_ErrorMapping distinguishes the upstream error kinds
func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{"message":"Not Found"}`,
			check: func(t *testing.T, err error) {
				var target *types.NotFoundError
				assert.True(t, errors.As(err, &target))
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"message":"Bad credentials"}`,
			check: func(t *testing.T, err error) {
				var target *types.AuthError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "Bad credentials", target.Message)
			},
		},
		{
			name:   "forbidden rate limit by body",
			status: http.StatusForbidden,
			body:   `{"message":"API rate limit exceeded for 1.2.3.4"}`,
			check: func(t *testing.T, err error) {
				var target *types.RateLimitError
				assert.True(t, errors.As(err, &target))
			},
		},
		{
			name:    "forbidden rate limit by header",
			status:  http.StatusForbidden,
			headers: map[string]string{"X-RateLimit-Remaining": "0", "X-RateLimit-Reset": "1700000000"},
			body:    `{"message":"quota"}`,
			check: func(t *testing.T, err error) {
				var target *types.RateLimitError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, int64(1700000000), target.ResetAt.Unix())
			},
		},
		{
			name:   "forbidden otherwise",
			status: http.StatusForbidden,
			body:   `{"message":"Resource not accessible by integration"}`,
			check: func(t *testing.T, err error) {
				var target *types.AuthError
				assert.True(t, errors.As(err, &target))
			},
		},
		{
			name:    "too many requests",
			status:  http.StatusTooManyRequests,
			headers: map[string]string{"Retry-After": "30"},
			check: func(t *testing.T, err error) {
				var target *types.RateLimitError
				require.True(t, errors.As(err, &target))
				assert.False(t, target.ResetAt.IsZero())
				assert.True(t, types.IsRetryable(err))
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   "bad gateway",
			check: func(t *testing.T, err error) {
				var target *types.UpstreamError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "bad gateway", target.Message)
				assert.True(t, types.IsRetryable(err))
			},
		},
		{
			name:   "other client error",
			status: http.StatusUnprocessableEntity,
			body:   `{"message":"invalid"}`,
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "api error 422")
				assert.False(t, types.IsRetryable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.GetFileContent(context.Background(), testRef, "main", "a.md")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

// TestClient_NoToken omits the authorization header
func TestClient_NoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"tree": []interface{}{}})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/"}, nil)
	entries, err := client.ListTree(context.Background(), testRef, "main")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestClient_CancelledContext fails before sending the request
func TestClient_CancelledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ListTree(ctx, testRef, "main")
	assert.ErrorIs(t, err, context.Canceled)
}
