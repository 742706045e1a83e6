// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package s3client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	storeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uploadgate_store_request_duration_seconds",
			Help:    "Duration of object store requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	storeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploadgate_store_requests_total",
			Help: "Total number of object store requests",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		storeRequestDuration,
		storeRequestsTotal,
	)
}

func observe(op, status string, start time.Time) {
	storeRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	storeRequestsTotal.WithLabelValues(op, status).Inc()
}
