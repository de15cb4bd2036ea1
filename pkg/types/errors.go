package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Validation errors
var (
	ErrDuplicatePath        = errors.New("duplicate path in scan result")
	ErrMalformedFingerprint = errors.New("malformed fingerprint")
	ErrInvalidRepository    = errors.New("invalid repository reference")
	ErrMissingPath          = errors.New("path is required")
)

// ErrCatalogUnavailable wraps catalog store failures that abort a sync
var ErrCatalogUnavailable = errors.New("catalog store unavailable")

// AuthError is returned when the source host rejects the credentials
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Message)
}

// NotFoundError is returned when a repository, branch or path does not exist
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Resource)
}

// RepositoryNotFoundError is returned by a scan when the repository or
// branch does not exist. It unwraps to the underlying NotFoundError.
type RepositoryNotFoundError struct {
	Repository string
	Branch     string
	Err        error
}

func (e *RepositoryNotFoundError) Error() string {
	return fmt.Sprintf("repository %s (branch %s) not found", e.Repository, e.Branch)
}

func (e *RepositoryNotFoundError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned when the upstream quota is exhausted
type RateLimitError struct {
	ResetAt time.Time // zero when unknown
	Message string
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "rate limit exceeded: " + e.Message
	}
	return fmt.Sprintf("rate limit exceeded until %s: %s", e.ResetAt.Format(time.RFC3339), e.Message)
}

// UpstreamError is a transient server-side failure (5xx)
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
}

// SyncInProgressError is returned when a sync for the same repository and
// branch is already running
type SyncInProgressError struct {
	RepositoryID string
	Branch       string
}

func (e *SyncInProgressError) Error() string {
	return fmt.Sprintf("sync already in progress for %s@%s", e.RepositoryID, e.Branch)
}

// ValidationError rejects malformed input before diffing proceeds
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "validation failed: " + e.Err.Error()
	}
	return fmt.Sprintf("validation failed for %s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// SyncError carries the full context of a fatal sync failure
type SyncError struct {
	RepositoryID string
	Branch       string
	Step         SyncStep
	Err          error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s@%s failed at %s: %v", e.RepositoryID, e.Branch, e.Step, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort a whole sync
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	var repoErr *RepositoryNotFoundError
	var inProgress *SyncInProgressError
	var validation *ValidationError
	return errors.As(err, &authErr) ||
		errors.As(err, &repoErr) ||
		errors.As(err, &inProgress) ||
		errors.As(err, &validation) ||
		errors.Is(err, ErrCatalogUnavailable)
}

// IsRetryable reports whether a per-item operation that failed with err may
// succeed on another attempt
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rateErr *RateLimitError
	var upstream *UpstreamError
	if errors.As(err, &rateErr) || errors.As(err, &upstream) {
		return true
	}
	var authErr *AuthError
	var notFound *NotFoundError
	var validation *ValidationError
	if errors.As(err, &authErr) || errors.As(err, &notFound) || errors.As(err, &validation) {
		return false
	}
	// transport-level failures surface as *url.Error or *net.OpError
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) {
		return temporary.Temporary()
	}
	return false
}
