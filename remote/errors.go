// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// CallError is any failed backend call: transport errors, non-2xx
// statuses, and success:false envelopes all end up here so callers can
// classify with IsTransient instead of inspecting transports.
type CallError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *CallError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
	case e.Code != "":
		return fmt.Sprintf("remote: %s: %s (%s)", e.Op, e.Message, e.Code)
	default:
		return fmt.Sprintf("remote: %s: status %d", e.Op, e.StatusCode)
	}
}

func (e *CallError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call later can succeed:
// transport-level failures and server-side 5xx/429/408 are transient;
// validation failures, conflicts and success:false envelopes are not.
func (e *CallError) Transient() bool {
	if e.Err != nil {
		return true
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return e.StatusCode >= 500
}

// IsTransient classifies an error from a Client call. Unclassifiable
// errors count as transient: with idempotency tokens on every replayed
// operation, retrying too much is safe where dropping is not.
func IsTransient(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Transient()
	}
	return true
}

// IsNotFound reports whether the call failed with a 404.
func IsNotFound(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound
}
