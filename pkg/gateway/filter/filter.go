// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package filter holds the request pipeline that runs in front of every
// upload endpoint: request ids, routing, CORS, body parsing, rate limits and
// token checks.
package filter

import (
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/debug"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"

	"github.com/prometheus/client_golang/prometheus"
)

type Response interface {
	IsEnd() bool
}

type Next struct{}

func (n Next) IsEnd() bool {
	return false
}

// End stops the chain. A filter returning End with a nil error has already
// written the response.
type End struct{}

func (e End) IsEnd() bool {
	return true
}

type Filter interface {
	Run(d *data.Data) (Response, error)
	Type() string
}

var (
	metricErrorCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Name:      "filter_error_count",
		Help:      "Number of errors encountered in filters",
	}, []string{"filter"})
	metricRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uploadgate",
		Name:      "filter_run_duration_seconds",
		Help:      "Duration of filter runs in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"filter"})
	metricRequestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Name:      "filter_request_count",
		Help:      "Number of requests processed by filters",
	}, []string{"filter"})
	metricContextCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Name:      "filter_context_cancelled_count",
		Help:      "Number of times filter context was cancelled",
	}, []string{"filter", "error"})
)

func init() {
	debug.Registry().MustRegister(
		metricErrorCount,
		metricRunDuration,
		metricRequestCount,
		metricContextCancelled,
	)
}

type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

func (c *Chain) AddFilter(f Filter) {
	c.filters = append(c.filters, f)
}

// Run executes filters in order and returns the type of the filter that
// stopped the chain, or "" when every filter passed.
func (c *Chain) Run(d *data.Data) (string, error) {
	for _, filter := range c.filters {
		t := time.Now()
		resp, err := filter.Run(d)
		metricRunDuration.WithLabelValues(filter.Type()).Observe(time.Since(t).Seconds())
		metricRequestCount.WithLabelValues(filter.Type()).Inc()

		if d.Ctx.Err() != nil {
			metricContextCancelled.WithLabelValues(filter.Type(), d.Ctx.Err().Error()).Inc()
			return filter.Type(), d.Ctx.Err()
		}

		if err != nil {
			metricErrorCount.WithLabelValues(filter.Type()).Inc()
			return filter.Type(), err
		}
		if resp.IsEnd() {
			return filter.Type(), nil
		}
	}
	return "", nil
}
