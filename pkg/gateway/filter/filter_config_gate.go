// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"crypto/subtle"
	"strings"

	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
)

const (
	FilterTypeConfigGate = "ConfigGateFilter"

	HeaderConfigKey = "X-Upload-Config-Key"
)

// ConfigGateFilter decides whether a GET /upload/config caller is trusted with
// a fresh upload token. It never rejects: untrusted callers still get the
// configuration, with an empty token.
//
// A caller is trusted when the config endpoint is public, or when it presents
// one of the configured keys in X-Upload-Config-Key or as a bearer token.
// The host application's backend holds the key and only forwards the
// configuration to users it has authenticated.
type ConfigGateFilter struct {
	public bool
	keys   [][]byte
}

func NewConfigGateFilter(public bool, keys []string) *ConfigGateFilter {
	f := &ConfigGateFilter{public: public}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			f.keys = append(f.keys, []byte(k))
		}
	}
	return f
}

func (f *ConfigGateFilter) Type() string {
	return FilterTypeConfigGate
}

func (f *ConfigGateFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}
	if d.Action != data.ActionConfig {
		return Next{}, nil
	}
	d.Trusted = f.public || f.matches(presentedKey(d))
	if !d.Trusted {
		logger.Ctx(d.Ctx).Debug().Msg("untrusted config request, token withheld")
	}
	return Next{}, nil
}

func (f *ConfigGateFilter) matches(key string) bool {
	if key == "" {
		return false
	}
	ok := 0
	for _, k := range f.keys {
		ok |= subtle.ConstantTimeCompare(k, []byte(key))
	}
	return ok == 1
}

func presentedKey(d *data.Data) string {
	if k := strings.TrimSpace(d.Req.Header.Get(HeaderConfigKey)); k != "" {
		return k
	}
	auth := d.Req.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
