// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidNamespaces is returned when the namespaces endpoint replies with
// a body that is neither a list nor an object holding one.
var ErrInvalidNamespaces = errors.New("invalid namespaces response")

// RequestError is a non-2xx response from the backend.
type RequestError struct {
	Status int
	Detail string // server-supplied "detail", if any

	what string // "Request", "Stream request", ...
}

// Error implements the error interface.
// The server's detail wins; otherwise "<what> failed (<status>)".
func (e *RequestError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%s failed (%d)", e.what, e.Status)
}

// newRequestError builds a RequestError from a response body.
func newRequestError(what string, status int, body []byte) *RequestError {
	e := &RequestError{Status: status, what: what}
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Detail) > 0 {
		var detail string
		if json.Unmarshal(resp.Detail, &detail) == nil {
			e.Detail = detail
		}
	}
	return e
}

// StreamError is an error the server reported inside the event stream.
type StreamError struct {
	Message string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return e.Message
}

// IsCanceled returns true if err stems from context cancellation.
// Cancellation is never reported to handlers or callers as a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsRequestError returns true if err is a non-2xx response with the given status.
// A zero status matches any RequestError.
func IsRequestError(err error, status int) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	return status == 0 || re.Status == status
}
