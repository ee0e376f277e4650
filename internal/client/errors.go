package client

import "errors"

var (
	// ErrMessageGone is returned for messages deleted or hidden for this viewer,
	// including ones that disappeared while a request was in flight.
	ErrMessageGone    = errors.New("client: message is gone")
	ErrUnknownMessage = errors.New("client: unknown message")
	ErrNotPermitted   = errors.New("client: delete scope not permitted")
)

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatusCode() int
}

// permanent reports failures that retrying cannot fix.
func permanent(err error) bool {
	var sc statusCoder
	if !errors.As(err, &sc) {
		return false
	}
	code := sc.HTTPStatusCode()
	return code >= 400 && code < 500 && code != 408 && code != 429
}
