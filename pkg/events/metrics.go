// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"github.com/LeeDigitalWorks/uploadgate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsEmittedTotal tracks events accepted by the emitter.
	EventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Total number of attachment events queued for delivery",
	}, []string{"event_type"})

	// EventsDroppedTotal tracks events dropped because the emitter is
	// disabled or its queue is full.
	EventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total number of attachment events dropped",
	}, []string{"reason"}) // reason: "disabled", "queue_full", "closed"

	EventsDeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Subsystem: "events",
		Name:      "delivered_total",
		Help:      "Total number of attachment events delivered to publishers",
	}, []string{"publisher"})

	EventsDeliveryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploadgate",
		Subsystem: "events",
		Name:      "delivery_errors_total",
		Help:      "Total number of event delivery errors",
	}, []string{"publisher"})

	EventsDeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uploadgate",
		Subsystem: "events",
		Name:      "delivery_duration_seconds",
		Help:      "Time to deliver one event to a publisher",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"publisher"})

	EventsQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "uploadgate",
		Subsystem: "events",
		Name:      "queue_depth",
		Help:      "Events waiting for delivery",
	})
)

func init() {
	debug.Registry().MustRegister(
		EventsEmittedTotal,
		EventsDroppedTotal,
		EventsDeliveredTotal,
		EventsDeliveryErrorsTotal,
		EventsDeliveryDuration,
		EventsQueueDepth,
	)
}
