// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"strconv"
	"sync/atomic"

	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"

	"github.com/google/uuid"
)

const (
	FilterTypeRequestID = "RequestIDFilter"

	HeaderRequestID = "X-Request-Id"
)

// RequestIDFilter tags each request with a process-unique id and a logger
// carrying it.
type RequestIDFilter struct {
	counter atomic.Uint64
	prefix  string
}

func NewRequestIDFilter() *RequestIDFilter {
	return &RequestIDFilter{
		prefix: uuid.New().String()[0:8],
	}
}

func (f *RequestIDFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}

	d.RequestID = f.generateRequestID()
	d.Ctx = logger.WithRequestID(d.Ctx, d.RequestID)
	if d.ResponseWriter != nil {
		d.ResponseWriter.Header().Set(HeaderRequestID, d.RequestID)
	}

	return Next{}, nil
}

func (f *RequestIDFilter) generateRequestID() string {
	return f.prefix + strconv.FormatUint(f.counter.Add(1), 10)
}

func (f *RequestIDFilter) Type() string {
	return FilterTypeRequestID
}
