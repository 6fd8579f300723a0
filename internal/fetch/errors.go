package fetch

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedReference = errors.New("fetch: malformed source reference")
	ErrDownloadFailed     = errors.New("fetch: download failed")
	ErrTruncated          = errors.New("fetch: truncated response body")
)

// DownloadFailedError is returned once every attempt for a source has been used up,
// or a non-retryable outcome stopped the loop early.
type DownloadFailedError struct {
	URL          string
	Reason       string
	AttemptsUsed int
	Err          error
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %s", e.URL, e.AttemptsUsed, e.Reason)
}

func (e *DownloadFailedError) Is(target error) bool {
	return target == ErrDownloadFailed
}

func (e *DownloadFailedError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}
