// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
)

const FilterTypeCORS = "CORSFilter"

// CORSFilter answers browser preflights and echoes allowed origins. An entry
// of "*" allows every origin; other entries match the origin host exactly.
type CORSFilter struct {
	allowAll bool
	hosts    map[string]struct{}
}

func NewCORSFilter(domains []string) *CORSFilter {
	f := &CORSFilter{hosts: make(map[string]struct{})}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		switch d {
		case "":
		case "*":
			f.allowAll = true
		default:
			f.hosts[d] = struct{}{}
		}
	}
	return f
}

func (f *CORSFilter) Type() string {
	return FilterTypeCORS
}

func (f *CORSFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}
	origin := d.Req.Header.Get("Origin")
	if origin == "" || d.ResponseWriter == nil {
		return Next{}, nil
	}

	if f.Allowed(origin) {
		h := d.ResponseWriter.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if d.Req.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if reqHeaders := d.Req.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Expose-Headers", "ETag, "+HeaderRequestID)
			h.Set("Access-Control-Max-Age", "86400")
		}
	}

	if d.Req.Method == http.MethodOptions {
		d.ResponseWriter.WriteHeader(http.StatusNoContent)
		return End{}, nil
	}
	return Next{}, nil
}

func (f *CORSFilter) Allowed(origin string) bool {
	if f.allowAll {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	_, ok := f.hosts[strings.ToLower(u.Hostname())]
	return ok
}
