// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	opParams = "params"
	opRelay  = "relay"
	opChunk  = "chunk"
	opMerge  = "merge"
	opAbort  = "abort"
	opNotify = "notify"
	opDelete = "delete"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uploadgate",
			Subsystem: "upload",
			Name:      "operations_total",
			Help:      "Upload coordinator operations by outcome (ok or the error kind)",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "uploadgate",
			Subsystem: "upload",
			Name:      "operation_duration_seconds",
			Help:      "Upload coordinator operation latency",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	// dedupedTotal counts uploads whose record already existed.
	dedupedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uploadgate",
			Subsystem: "upload",
			Name:      "deduplicated_total",
			Help:      "Uploads reconciled onto an existing attachment record",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(operationsTotal, operationDuration, dedupedTotal)
}

func observe(op string, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = errs.KindOf(err).String()
	}
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
