package client

import (
	"fmt"
	"net/http"
)

// Outcome classifies how a remote call ended.
type Outcome string

const (
	// OK means the remote answered with a usable payload.
	OK Outcome = "ok"
	// Unconfigured means no base URL is set; no request was made.
	Unconfigured Outcome = "unconfigured"
	// Unreachable covers timeouts, transport errors and non-2xx replies.
	Unreachable Outcome = "unreachable"
	// BadShape means the reply was not one of the accepted JSON shapes.
	BadShape Outcome = "bad_shape"
)

// Result is the value every client operation produces. Callers that only
// care about rendering check OK() and fall back otherwise; callers that
// report on the remote source can look at Outcome and Err.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool {
	return r.Outcome == OK
}

func success[T any](v T) Result[T] {
	return Result[T]{Value: v, Outcome: OK}
}

func failure[T any](outcome Outcome, err error) Result[T] {
	return Result[T]{Outcome: outcome, Err: err}
}

// maxErrorBody bounds how much of an error reply ends up in StatusError.
const maxErrorBody = 500

// StatusError is the reason recorded for a non-2xx reply.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
	URL        string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP error! status: %d %s: %s", e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("HTTP error! status: %d %s", e.StatusCode, e.Status)
}

func newStatusError(resp *http.Response, body []byte, url string) *StatusError {
	s := string(body)
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Body:       s,
		URL:        url,
	}
}
