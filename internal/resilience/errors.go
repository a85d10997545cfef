package resilience

import (
	"context"
	"errors"
)

// transient is implemented by errors that know whether a retry can help,
// such as *gemini.Error.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err is worth retrying. Context cancellation is
// never transient; an error anywhere in the chain that implements
// Transient() decides otherwise.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te transient
	if errors.As(err, &te) {
		return te.Transient()
	}
	return false
}
