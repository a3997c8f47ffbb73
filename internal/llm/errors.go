package llm

import (
	"errors"
	"fmt"
)

// ErrNoAPIKey means no API key is configured; it is detected before
// any network call is made.
var ErrNoAPIKey = errors.New("no API key configured")

// ErrEmptyResponse means the stream completed without yielding any
// content at all.
var ErrEmptyResponse = errors.New("API returned no content")

// HTTPError is a non-2xx response from the completion endpoint.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error: %s", e.Status)
	}
	return fmt.Sprintf("API error: %s - %s", e.Status, e.Body)
}
