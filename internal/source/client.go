package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/docsync-mcp/pkg/types"
)

// Client defaults
const (
	DefaultBaseURL           = "https://api.github.com"
	DefaultUserAgent         = "docsync-mcp"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 10

	apiVersion       = "2022-11-28"
	maxErrorBody     = 4 << 10
	maxContentLength = 50 << 20
)

// Config holds client configuration
type Config struct {
	BaseURL           string
	Token             string
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client // optional, overrides Timeout
}

// TreeEntry is one blob listed by the git tree endpoint
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

// FileContent is a decoded file from the contents endpoint
type FileContent struct {
	Path        string
	Content     string // decoded text
	Encoding    string // encoding reported upstream
	SHA         string
	Size        int64
	HTMLURL     string
	DownloadURL string
}

// Client talks to the GitHub REST API
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a GitHub client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		userAgent:  userAgent,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

// ListTree lists every blob reachable from branch
func (c *Client) ListTree(ctx context.Context, ref types.RepositoryRef, branch string) ([]TreeEntry, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		c.baseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Name), url.PathEscape(branch))

	var tree struct {
		SHA       string      `json:"sha"`
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	if err := c.getJSON(ctx, endpoint, fmt.Sprintf("%s@%s", ref.ID(), branch), &tree); err != nil {
		return nil, err
	}

	if tree.Truncated {
		c.logger.Warn("tree listing truncated by upstream; some files will not be tracked",
			"repository", ref.ID(), "branch", branch, "entries", len(tree.Tree))
	}

	blobs := make([]TreeEntry, 0, len(tree.Tree))
	for _, entry := range tree.Tree {
		if entry.Type == "blob" {
			blobs = append(blobs, entry)
		}
	}
	return blobs, nil
}

// GetFileContent fetches and decodes one file at branch
func (c *Client) GetFileContent(ctx context.Context, ref types.RepositoryRef, branch, path string) (*FileContent, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.baseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Name), escapePath(path), url.QueryEscape(branch))

	var payload struct {
		Type        string `json:"type"`
		Path        string `json:"path"`
		Content     string `json:"content"`
		Encoding    string `json:"encoding"`
		SHA         string `json:"sha"`
		Size        int64  `json:"size"`
		HTMLURL     string `json:"html_url"`
		DownloadURL string `json:"download_url"`
	}
	if err := c.getJSON(ctx, endpoint, path, &payload); err != nil {
		return nil, err
	}
	if payload.Type != "" && payload.Type != "file" {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotAFile, path, payload.Type)
	}

	var text string
	var err error
	if payload.Encoding == "none" && payload.DownloadURL != "" {
		// bodies over 1MB are not inlined
		text, err = c.getRaw(ctx, payload.DownloadURL, path)
	} else {
		text, err = DecodeContent(payload.Content, payload.Encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if payload.Path == "" {
		payload.Path = path
	}
	if payload.HTMLURL == "" {
		payload.HTMLURL = WebURL(ref, branch, path)
	}
	if payload.DownloadURL == "" {
		payload.DownloadURL = RawURL(ref, branch, path)
	}

	return &FileContent{
		Path:        payload.Path,
		Content:     text,
		Encoding:    payload.Encoding,
		SHA:         payload.SHA,
		Size:        payload.Size,
		HTMLURL:     payload.HTMLURL,
		DownloadURL: payload.DownloadURL,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, resource string, out interface{}) error {
	resp, err := c.do(ctx, endpoint, "application/vnd.github+json")
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkResponse(resp, resource); err != nil {
		return err
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxContentLength)).Decode(out); err != nil {
		return fmt.Errorf("decode response for %s: %w", resource, err)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, endpoint, resource string) (string, error) {
	resp, err := c.do(ctx, endpoint, "application/vnd.github.raw")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkResponse(resp, resource); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentLength))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", resource, err)
	}
	return DecodeContent(string(body), "")
}

func (c *Client) do(ctx context.Context, endpoint, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	return resp, nil
}

// checkResponse maps non-2xx responses to the error kinds in pkg/types
func checkResponse(resp *http.Response, resource string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := apiMessage(bodyBytes)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &types.AuthError{StatusCode: resp.StatusCode, Message: message}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &types.RateLimitError{ResetAt: rateLimitReset(resp.Header), Message: message}
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || strings.Contains(strings.ToLower(message), "rate limit") {
			return &types.RateLimitError{ResetAt: rateLimitReset(resp.Header), Message: message}
		}
		return &types.AuthError{StatusCode: resp.StatusCode, Message: message}
	case resp.StatusCode == http.StatusNotFound:
		return &types.NotFoundError{Resource: resource}
	case resp.StatusCode >= 500:
		return &types.UpstreamError{StatusCode: resp.StatusCode, Message: message}
	default:
		return fmt.Errorf("api error %d for %s: %s", resp.StatusCode, resource, message)
	}
}

func apiMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return strings.TrimSpace(string(body))
}

func rateLimitReset(h http.Header) time.Time {
	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if secs, err := strconv.ParseInt(reset, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
	}
	if after := h.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second).UTC()
		}
	}
	return time.Time{}
}

// escapePath escapes each segment of a repository path
func escapePath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// ErrNotAFile is returned when the contents endpoint resolves to a directory or submodule
var ErrNotAFile = errors.New("path is not a file")
