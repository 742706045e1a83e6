// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uploadgate_db_query_duration_seconds",
			Help:    "Duration of attachment database operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "status"},
	)

	dbQueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploadgate_db_queries_total",
			Help: "Total number of attachment database operations",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		dbQueryDuration,
		dbQueryTotal,
	)
}

// recordMetric records timing and status for an operation. A miss is not an
// error.
func recordMetric(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	dbQueryDuration.WithLabelValues(operation, status).Observe(duration)
	dbQueryTotal.WithLabelValues(operation, status).Inc()
}

// MetricsStore wraps a Store and adds metrics instrumentation
type MetricsStore struct {
	store Store
}

func NewMetricsStore(store Store) *MetricsStore {
	return &MetricsStore{store: store}
}

// Unwrap returns the underlying Store implementation
func (m *MetricsStore) Unwrap() Store {
	return m.store
}

func (m *MetricsStore) Create(ctx context.Context, a *types.Attachment) (bool, error) {
	start := time.Now()
	created, err := m.store.Create(ctx, a)
	recordMetric("create", start, err)
	return created, err
}

func (m *MetricsStore) Get(ctx context.Context, id int64) (*types.Attachment, error) {
	start := time.Now()
	a, err := m.store.Get(ctx, id)
	recordMetric("get", start, err)
	return a, err
}

func (m *MetricsStore) FindByURL(ctx context.Context, url string, kind types.StorageKind) (*types.Attachment, error) {
	start := time.Now()
	a, err := m.store.FindByURL(ctx, url, kind)
	recordMetric("find_by_url", start, err)
	return a, err
}

func (m *MetricsStore) UpdateStorage(ctx context.Context, id int64, from, to types.StorageKind, remoteURL *string) (bool, error) {
	start := time.Now()
	ok, err := m.store.UpdateStorage(ctx, id, from, to, remoteURL)
	recordMetric("update_storage", start, err)
	return ok, err
}

func (m *MetricsStore) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	err := m.store.Delete(ctx, id)
	recordMetric("delete", start, err)
	return err
}

func (m *MetricsStore) Migrate(ctx context.Context) error {
	start := time.Now()
	err := m.store.Migrate(ctx)
	recordMetric("migrate", start, err)
	return err
}

func (m *MetricsStore) Close() error {
	return m.store.Close()
}

var _ Store = (*MetricsStore)(nil)
