// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/filter"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"

	"github.com/getsentry/sentry-go"
)

// envelope is the body of every upload endpoint response.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Kind string `json:"kind,omitempty"`
	Data any    `json:"data,omitempty"`
}

type wrappedResponseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *wrappedResponseRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *wrappedResponseRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, envelope{Code: 1, Data: payload})
}

// writeError maps err onto a status and a failure envelope. Internal and
// unclassified errors are logged and reported without their detail.
func writeError(w http.ResponseWriter, d *data.Data, err error) {
	var httpErr *filter.HTTPError
	if errors.As(err, &httpErr) {
		writeJSON(w, httpErr.Status, envelope{Code: 0, Msg: httpErr.Message, Kind: httpErr.Code})
		return
	}

	kind := errs.KindOf(err)
	log := logger.Ctx(d.Ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.Debug().Err(err).Str("action", d.Action.String()).Msg("request cancelled")
		kind = errs.KindInternal
	case kind == errs.KindNone:
		log.Error().Err(err).Str("action", d.Action.String()).Msg("unclassified error")
		kind = errs.KindInternal
		report(d, err)
	case kind == errs.KindInternal || kind == errs.KindConfiguration:
		log.Error().Err(err).Str("action", d.Action.String()).Msg("upload failed")
		report(d, err)
	case kind == errs.KindTransport || kind == errs.KindRemoteProtocol:
		log.Warn().Err(err).Str("action", d.Action.String()).Msg("object store call failed")
	}

	msg := errs.Message(err)
	if kind == errs.KindInternal || kind == errs.KindConfiguration || msg == "" {
		msg = http.StatusText(kind.HTTPStatus())
	}
	writeJSON(w, kind.HTTPStatus(), envelope{Code: 0, Msg: msg, Kind: kind.String()})
}

// report sends err to sentry tagged with the request id. It is a no-op when
// sentry was not initialised.
func report(d *data.Data, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("request_id", logger.RequestID(d.Ctx))
		scope.SetTag("action", d.Action.String())
		sentry.CaptureException(err)
	})
}
