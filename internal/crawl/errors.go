package crawl

import (
	"errors"
	"fmt"
)

// FetchError classifies a failed fetch. Transient errors (timeouts, 5xx,
// connection resets) are retried; permanent errors (4xx, unsupported content
// types) are recorded and skipped.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch error for %s (status %d): %v", kind, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch error for %s: %v", kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a fetch error worth retrying.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

func transientErr(url string, status int, err error) *FetchError {
	return &FetchError{URL: url, StatusCode: status, Transient: true, Err: err}
}

func permanentErr(url string, status int, err error) *FetchError {
	return &FetchError{URL: url, StatusCode: status, Transient: false, Err: err}
}
