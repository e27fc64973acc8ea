package jira

import (
	"errors"
	"fmt"
)

// ErrUnauthorized indicates the configured JIRA credentials were rejected
var ErrUnauthorized = errors.New("invalid or expired JIRA credentials")

// ErrRateLimited indicates the JIRA API rate limit was exceeded
var ErrRateLimited = errors.New("JIRA API rate limit exceeded")

// ErrNotConfigured indicates no JIRA base URL or credentials are set
var ErrNotConfigured = errors.New("JIRA connection is not configured")

// ErrNotFound indicates the requested project or issue does not exist
var ErrNotFound = errors.New("JIRA resource not found")

// ServerError represents a 5xx error from the JIRA API
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("JIRA server error: HTTP %d", e.StatusCode)
}

// IsRetryable reports whether an error is worth another attempt: rate limits
// and server errors are transient, everything else is not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *ServerError
	return errors.As(err, &se)
}
