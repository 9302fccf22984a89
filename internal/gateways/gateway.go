// Package gateways holds what the payment adapters share: the Gateway
// surface seen by the service layer and the normalization of vendor error
// lists into outcome messages.
package gateways

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAuthorization is returned when a caller-supplied authorization
// or vault id cannot be decoded.
var ErrInvalidAuthorization = errors.New("invalid authorization")

// Gateway is implemented by every adapter.
type Gateway interface {
	Name() string
	SupportsScrubbing() bool
	Scrub(transcript string) string
}

// APIError is one field-level error reported by a gateway.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIFailure is a business error returned by a gateway API: a decline,
// a validation error or a missing resource. Adapters turn it into a failed
// outcome; any other error is a defect.
type APIFailure struct {
	StatusCode int
	Errors     []APIError
}

func (e *APIFailure) Error() string {
	return fmt.Sprintf("gateway rejected request (%d): %s", e.StatusCode, MessageFromErrors(e.Errors))
}

// MessageFromErrors flattens errs into "message (code) message (code)".
// An empty list yields "OK".
func MessageFromErrors(errs []APIError) string {
	if len(errs) == 0 {
		return "OK"
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%s (%s)", e.Message, e.Code))
	}
	return strings.Join(parts, " ")
}
