// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway serves the upload endpoints over HTTP.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/debug"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/filter"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/upload"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsRequest = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Name:      "http_requests_total",
		Help:      "Number of upload API requests received",
	}, []string{"action", "status_code"})
	metricsRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uploadgate",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of upload API requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action", "status_code"})
	metricsBytesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Name:      "http_response_bytes_total",
		Help:      "Response bytes written by the upload API",
	}, []string{"action"})
)

func init() {
	debug.Registry().MustRegister(metricsRequest, metricsRequestDuration, metricsBytesWritten)
}

// Handler serves one routed action. A returned error becomes the failure
// envelope; handlers that succeed write their own response.
type Handler func(d *data.Data, w http.ResponseWriter) error

type Config struct {
	Coordinator *upload.Coordinator
	Upload      *types.UploadConfig

	// CORSDomains lists origins allowed to call the API; "*" allows all.
	CORSDomains []string
	// Categories restricts the attachment category field; empty accepts any.
	Categories []string
	// RateLimit is optional.
	RateLimit *filter.RateLimitFilter

	// PublicConfig issues an upload token to every GET /upload/config caller.
	// Off by default: only callers presenting one of ConfigKeys get a token.
	PublicConfig bool
	ConfigKeys   []string
}

type Server struct {
	coord      *upload.Coordinator
	chain      *filter.Chain
	handlers   map[data.Action]Handler
	categories map[string]struct{}
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("gateway: coordinator is required")
	}
	if cfg.Upload == nil {
		return nil, errors.New("gateway: upload config is required")
	}

	chain := filter.NewChain(
		filter.NewRequestIDFilter(),
		filter.NewRouterFilter(filter.DefaultRoutes(cfg.Upload.RelayURL)),
		filter.NewCORSFilter(cfg.CORSDomains),
	)
	if cfg.RateLimit != nil {
		chain.AddFilter(cfg.RateLimit)
	}
	chain.AddFilter(filter.NewParserFilter(cfg.Upload.MaxSize))
	chain.AddFilter(filter.NewTokenFilter(cfg.Coordinator.Guard()))
	chain.AddFilter(filter.NewConfigGateFilter(cfg.PublicConfig, cfg.ConfigKeys))

	s := &Server{
		coord:      cfg.Coordinator,
		chain:      chain,
		categories: make(map[string]struct{}, len(cfg.Categories)),
	}
	for _, c := range cfg.Categories {
		s.categories[c] = struct{}{}
	}
	s.handlers = map[data.Action]Handler{
		data.ActionConfig: s.ConfigHandler,
		data.ActionParams: s.ParamsHandler,
		data.ActionRelay:  s.RelayHandler,
		data.ActionNotify: s.NotifyHandler,
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	wrapped := &wrappedResponseRecorder{ResponseWriter: w}

	d := data.NewData(r.Context(), r)
	d.ResponseWriter = wrapped

	defer func() {
		if d.File != nil {
			d.File.Close()
		}
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}

		status := wrapped.statusCode
		// If the request was cancelled by the client, avoid counting a 500
		if status == http.StatusInternalServerError && errors.Is(r.Context().Err(), context.Canceled) {
			status = 0
		}
		code := strconv.Itoa(status)
		metricsRequest.WithLabelValues(d.Action.String(), code).Inc()
		metricsRequestDuration.WithLabelValues(d.Action.String(), code).Observe(time.Since(start).Seconds())
		metricsBytesWritten.WithLabelValues(d.Action.String()).Add(float64(wrapped.bytesWritten))
	}()

	stoppedAt, err := s.chain.Run(d)
	if err != nil {
		writeError(wrapped, d, err)
		return
	}
	if stoppedAt != "" {
		// A filter answered the request itself.
		return
	}

	handler, ok := s.handlers[d.Action]
	if !ok {
		writeError(wrapped, d, filter.ErrRouteNotFound)
		return
	}
	if err := handler(d, wrapped); err != nil {
		writeError(wrapped, d, err)
		return
	}
	logger.Ctx(d.Ctx).Debug().
		Str("action", d.Action.String()).
		Int("status", wrapped.statusCode).
		Dur("took", time.Since(start)).
		Msg("request served")
}
