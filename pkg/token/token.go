// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package token issues and checks the stateless capability tokens that gate
// the upload endpoints.
//
// A token is accessKeyId:base64(HMAC-SHA256(secret, payload)):base64(payload)
// where payload is the JSON document {"deadline":<unix seconds>}. Nothing is
// stored server side; possession until the deadline is the whole grant.
package token

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"

	"github.com/minio/sha256-simd"
)

var (
	// ErrInvalidToken covers malformed tokens, unknown key ids and bad MACs.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpired is returned once now reaches the deadline.
	ErrExpired = errors.New("token expired")
)

// Claims is the decoded payload.
type Claims struct {
	Deadline int64 `json:"deadline"`
}

// DeadlineTime returns the deadline as a time.Time.
func (c Claims) DeadlineTime() time.Time {
	return time.Unix(c.Deadline, 0)
}

// Guard holds the signing identity. Safe for concurrent use.
type Guard struct {
	accessKeyID string
	secret      []byte
	now         func() time.Time
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

func NewGuard(accessKeyID, secretAccessKey string, opts ...Option) (*Guard, error) {
	if accessKeyID == "" || secretAccessKey == "" {
		return nil, errs.Configuration("token", "access key id and secret are required")
	}
	if strings.Contains(accessKeyID, ":") {
		return nil, errs.Configuration("token", "access key id must not contain ':'")
	}
	g := &Guard{accessKeyID: accessKeyID, secret: []byte(secretAccessKey), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Issue mints a token valid until deadline.
func (g *Guard) Issue(deadline time.Time) (string, error) {
	payload, err := json.Marshal(Claims{Deadline: deadline.Unix()})
	if err != nil {
		return "", errs.Internal("token", "encode payload", err)
	}
	return g.accessKeyID + ":" +
		base64.StdEncoding.EncodeToString(g.mac(payload)) + ":" +
		base64.StdEncoding.EncodeToString(payload), nil
}

// IssueTTL mints a token valid for ttl from now and returns its deadline.
func (g *Guard) IssueTTL(ttl time.Duration) (string, time.Time, error) {
	deadline := g.now().Add(ttl).Truncate(time.Second)
	tok, err := g.Issue(deadline)
	return tok, deadline, err
}

// Validate checks shape, key id, MAC and deadline in that order. Errors are
// Authorization errors wrapping ErrInvalidToken or ErrExpired.
func (g *Guard) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, errs.Authorization("token", "token is required", ErrInvalidToken)
	}
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, errs.Authorization("token", "token is malformed", ErrInvalidToken)
	}
	if subtle.ConstantTimeCompare([]byte(parts[0]), []byte(g.accessKeyID)) != 1 {
		return nil, errs.Authorization("token", "token was issued for another key", ErrInvalidToken)
	}

	sig, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errs.Authorization("token", "token signature is not base64", ErrInvalidToken)
	}
	payload, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, errs.Authorization("token", "token payload is not base64", ErrInvalidToken)
	}
	if !hmac.Equal(sig, g.mac(payload)) {
		return nil, errs.Authorization("token", "signature mismatch", ErrInvalidToken)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Deadline <= 0 {
		return nil, errs.Authorization("token", "token payload is invalid", ErrInvalidToken)
	}
	if g.now().Unix() >= claims.Deadline {
		return nil, errs.Authorization("token", "request timed out", ErrExpired)
	}
	return &claims, nil
}

func (g *Guard) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, g.secret)
	h.Write(payload)
	return h.Sum(nil)
}
