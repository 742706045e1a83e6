// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import "net/http"

// HTTPError is a gateway-level rejection that has no place in the upload
// error taxonomy: unknown routes, throttling, oversized bodies.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

var (
	ErrRouteNotFound    = &HTTPError{Status: http.StatusNotFound, Code: "not_found", Message: "no such endpoint"}
	ErrMethodNotAllowed = &HTTPError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Message: "method not allowed"}
	ErrTooManyRequests  = &HTTPError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests, slow down"}
	ErrBodyTooLarge     = &HTTPError{Status: http.StatusRequestEntityTooLarge, Code: "body_too_large", Message: "request body too large"}
)
