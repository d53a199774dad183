package vendors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError means the vendor could not be reached or could not serve the
// request right now. The purchase may be retried with another vendor.
type TransientError struct {
	Vendor string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("vendor %s unavailable: %v", e.Vendor, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RejectedError is a business rejection from the vendor. Trying another vendor
// will not change the outcome, so it is returned to the caller unchanged.
type RejectedError struct {
	Vendor  string
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("vendor %s rejected purchase: %s", e.Vendor, e.Message)
	}
	return fmt.Sprintf("vendor %s rejected purchase (%s): %s", e.Vendor, e.Code, e.Message)
}

var ErrUnknownAdapter = errors.New("unknown vendor adapter")

var ErrUnknownVendor = errors.New("unknown vendor")

func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// IsTransient reports whether err allows failover. Anything that is not an explicit
// rejection counts, including timeouts and unclassified errors.
func IsTransient(err error) bool {
	return err != nil && !IsRejected(err)
}

func transient(vendor string, err error) error {
	return &TransientError{Vendor: vendor, Err: err}
}

func rejected(vendor, code, msg string) error {
	return &RejectedError{Vendor: vendor, Code: code, Message: msg}
}

// classifyNetErr wraps transport failures from an adapter's HTTP call.
func classifyNetErr(vendor string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return transient(vendor, fmt.Errorf("timeout: %w", err))
	case errors.As(err, &netErr) && netErr.Timeout():
		return transient(vendor, fmt.Errorf("timeout: %w", err))
	default:
		return transient(vendor, err)
	}
}
