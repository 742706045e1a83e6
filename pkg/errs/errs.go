// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package errs defines the error taxonomy shared by the signer, the object
// store client, the token guard and the upload coordinator.
package errs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3err"
)

// Kind classifies an error by who has to act on it.
type Kind int

const (
	KindNone Kind = iota
	// KindConfiguration is a missing or invalid deployment setting. Fatal at startup.
	KindConfiguration
	// KindValidation is bad caller input. Never reaches the object store.
	KindValidation
	// KindAuthorization is a missing, malformed, forged or expired capability token.
	KindAuthorization
	// KindTransport is a network failure talking to the object store.
	KindTransport
	// KindRemoteProtocol is a non-success status or an unexpected body from the store.
	KindRemoteProtocol
	// KindInternal is a local failure (filesystem, metadata store).
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindTransport:
		return "transport"
	case KindRemoteProtocol:
		return "remote_protocol"
	case KindInternal:
		return "internal"
	default:
		return "none"
	}
}

// HTTPStatus maps the kind onto the status returned by the upload endpoints.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusUnauthorized
	case KindTransport, KindRemoteProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string

	// StatusCode and Body are set for KindRemoteProtocol.
	StatusCode int
	Body       []byte
	// Remote is the decoded S3 error document, when the body carried one.
	Remote *s3err.Error

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Kind == KindRemoteProtocol && e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind using a bare &Error{Kind: k} target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Message returns the caller-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func Configuration(op, msg string) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Message: msg}
}

func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// Authorization wraps a token sentinel so callers can errors.Is on it.
func Authorization(op, msg string, err error) *Error {
	return &Error{Kind: KindAuthorization, Op: op, Message: msg, Err: err}
}

func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Message: "object store unreachable", Err: err}
}

// RemoteProtocol records an unexpected store response, keeping the raw body.
func RemoteProtocol(op, msg string, status int, body []byte) *Error {
	e := &Error{Kind: KindRemoteProtocol, Op: op, Message: msg, StatusCode: status, Body: body}
	if remote, ok := s3err.Parse(body); ok {
		e.Remote = remote
	}
	return e
}

func Internal(op, msg string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: msg, Err: err}
}
