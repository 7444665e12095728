package fortios

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidArgument is returned by New when a required parameter is missing.
var ErrInvalidArgument = errors.New("invalid argument")

// RequestError describes a GET that did not yield a usable JSON response.
// StatusCode is 0 when no response was received.
type RequestError struct {
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "GET request to %s failed", e.Path)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status code %d", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RequestError) Unwrap() error { return e.Err }
