// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package debug

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestReadiness(t *testing.T) {
	t.Cleanup(func() {
		SetNotReady()
		SetReadyCheck(nil)
	})
	mux := GetMux()

	SetNotReady()
	code, _ := get(t, mux, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	SetReady()
	code, _ = get(t, mux, "/ready")
	assert.Equal(t, http.StatusOK, code)

	healthy := false
	SetReadyCheck(func() bool { return healthy })
	assert.False(t, IsReady())
	healthy = true
	assert.True(t, IsReady())

	code, _ = get(t, mux, "/health")
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsAndCustomHandlers(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "uploadgate_debug_test_total", Help: "test"})
	require.NoError(t, Registry().Register(c))
	c.Inc()

	RegisterHandlerFunc("/custom", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "custom")
	})
	mux := GetMux()

	code, body := get(t, mux, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "uploadgate_debug_test_total 1")

	code, body = get(t, mux, "/custom")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "custom", body)
}
