// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"github.com/LeeDigitalWorks/uploadgate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RateLimitRequestsTotal tracks total requests checked by rate limiter
	RateLimitRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total number of requests checked by rate limiter",
	}, []string{"action", "result"}) // result: allowed/rejected/error

	// RateLimitRejectionsTotal tracks rejected requests by scope
	RateLimitRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total number of rate-limited requests",
	}, []string{"scope"}) // scope: ip/redis

	RateLimitActiveLimiters = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "uploadgate",
		Subsystem: "ratelimit",
		Name:      "active_limiters",
		Help:      "Number of live per-IP limiters",
	})
)

func init() {
	debug.Registry().MustRegister(
		RateLimitRequestsTotal,
		RateLimitRejectionsTotal,
		RateLimitActiveLimiters,
	)
}
