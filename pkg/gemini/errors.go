package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Kind classifies a failed call.
type Kind int

const (
	KindUnknown Kind = iota
	// KindEmptyResponse is a successful call with no usable candidate,
	// usually because of safety filtering.
	KindEmptyResponse
	// KindModelUnavailable means the model is not recognized for this key (404).
	KindModelUnavailable
	// KindCredentialRejected means the key is invalid or unauthorized (400/401/403).
	KindCredentialRejected
	// KindRequestRejected is any other non-success status.
	KindRequestRejected
	// KindTransport covers network errors and timeouts.
	KindTransport
	// KindMalformedResponse means a 200 whose body could not be decoded.
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindEmptyResponse:
		return "empty response"
	case KindModelUnavailable:
		return "model unavailable"
	case KindCredentialRejected:
		return "credential rejected"
	case KindRequestRejected:
		return "request rejected"
	case KindTransport:
		return "transport error"
	case KindMalformedResponse:
		return "malformed response"
	default:
		return "unknown"
	}
}

// Error is returned by every Client method on failure.
type Error struct {
	Kind       Kind
	Op         string
	Model      string
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("gemini: ")
	b.WriteString(e.Op)
	if e.Model != "" {
		b.WriteString(" ")
		b.WriteString(e.Model)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same call may succeed.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindRequestRejected:
		switch e.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	case KindTransport:
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return true
		}
		if errors.Is(e.Err, syscall.ECONNRESET) || errors.Is(e.Err, syscall.ECONNREFUSED) {
			return true
		}
		var netErr net.Error
		return errors.As(e.Err, &netErr) && netErr.Timeout()
	default:
		return false
	}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err means no call with this credential can succeed.
func IsFatal(err error) bool {
	return KindOf(err) == KindCredentialRejected
}

func classifyStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindModelUnavailable
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return KindCredentialRejected
	default:
		return KindRequestRejected
	}
}
