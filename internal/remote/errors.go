package remote

import (
	"errors"
	"fmt"

	"llamachat/pkg/types"
)

// Kind classifies remote stream failures.
type Kind int

const (
	KindUnauthenticated Kind = iota + 1
	KindHTTP
	KindMalformedDelta
	KindNetwork
	KindBodyRead
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindHTTP:
		return "http"
	case KindMalformedDelta:
		return "malformed_delta"
	case KindNetwork:
		return "network"
	case KindBodyRead:
		return "body_read"
	default:
		return "unknown"
	}
}

// Error terminates a remote fragment sequence.
type Error struct {
	Kind     Kind
	Provider types.Provider
	Status   int    // KindHTTP
	Body     string // KindHTTP, truncated response body
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnauthenticated:
		return fmt.Sprintf("%s: API key not set", e.Provider)
	case KindHTTP:
		if e.Body != "" {
			return fmt.Sprintf("%s: API error: %d - %s", e.Provider, e.Status, e.Body)
		}
		return fmt.Sprintf("%s: API error: %d", e.Provider, e.Status)
	case KindMalformedDelta:
		return fmt.Sprintf("%s: malformed delta: %v", e.Provider, e.Err)
	case KindNetwork:
		return fmt.Sprintf("%s: request failed: %v", e.Provider, e.Err)
	case KindBodyRead:
		return fmt.Sprintf("%s: reading response: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of a remote error, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusOf returns the HTTP status carried by a KindHTTP error, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindHTTP {
		return e.Status
	}
	return 0
}
