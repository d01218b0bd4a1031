package httpclient

import "fmt"

// HTTPError is returned for non-200 responses
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
	// RetryAfter is the raw Retry-After header, if any
	RetryAfter string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}
