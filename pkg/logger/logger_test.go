// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtxFallsBackToGlobal(t *testing.T) {
	assert.Equal(t, &globalLogger, Ctx(context.Background()))
	assert.Equal(t, &globalLogger, Ctx(nil)) //nolint:staticcheck
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), &base)
	ctx = WithRequestID(ctx, "abc123")

	Ctx(ctx).Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "abc123", line["request_id"])
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "abc123", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
}
