// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/token"
)

const (
	FilterTypeToken = "TokenFilter"

	HeaderUploadToken = "X-Upload-Token"
)

// TokenFields are the form fields a token may arrive in, in lookup order.
var TokenFields = []string{"r2token", "token"}

type TokenValidator interface {
	Validate(tok string) (*token.Claims, error)
}

// TokenFilter rejects guarded endpoints unless they carry a live token.
type TokenFilter struct {
	validator TokenValidator
}

func NewTokenFilter(v TokenValidator) *TokenFilter {
	return &TokenFilter{validator: v}
}

func (f *TokenFilter) Type() string {
	return FilterTypeToken
}

func (f *TokenFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}
	if !d.Action.RequiresToken() {
		return Next{}, nil
	}

	tok := d.Form.String(TokenFields...)
	if tok == "" {
		tok = d.Req.Header.Get(HeaderUploadToken)
	}
	claims, err := f.validator.Validate(tok)
	if err != nil {
		logger.Ctx(d.Ctx).Debug().Err(err).Str("action", d.Action.String()).Msg("token rejected")
		return End{}, err
	}
	d.Claims = claims
	return Next{}, nil
}
