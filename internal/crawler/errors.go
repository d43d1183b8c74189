package crawler

import (
	"errors"
	"fmt"
)

// ErrNoLink marks a listing row that has no character link to follow.
var ErrNoLink = errors.New("listing row has no character link")

// FetchError reports a page that could not be retrieved. StatusCode is zero
// for transport failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrQueueClosed is returned by a Queue that no longer yields tasks.
var ErrQueueClosed = errors.New("queue closed")
