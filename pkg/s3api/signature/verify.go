// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3err"
)

// MaxClockSkew bounds header-signed requests, as S3 does.
const MaxClockSkew = 15 * time.Minute

// CredentialLookup resolves a secret for an access key id.
type CredentialLookup func(accessKeyID string) (secret string, ok bool)

// StaticCredentials accepts exactly one key pair.
func StaticCredentials(accessKeyID, secretAccessKey string) CredentialLookup {
	return func(id string) (string, bool) {
		if id != accessKeyID {
			return "", false
		}
		return secretAccessKey, true
	}
}

// Verifier checks header-signed and pre-signed SigV4 requests by re-deriving
// the signature with SignRequest.
type Verifier struct {
	lookup CredentialLookup
	now    func() time.Time
}

func NewVerifier(lookup CredentialLookup, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{lookup: lookup, now: now}
}

// authInfo contains parsed authentication information from request
type authInfo struct {
	accessKey     string
	date          string
	timestamp     time.Time
	region        string
	service       string
	signedHeaders []string
	signature     string
	payloadHash   string
	presigned     bool
	expires       time.Duration
}

// VerifyRequest returns ErrNone when r carries a valid signature.
func (v *Verifier) VerifyRequest(r *http.Request) s3err.ErrorCode {
	auth, code := v.extractAuthInfo(r)
	if code != s3err.ErrNone {
		return code
	}

	now := v.now().UTC()
	if auth.presigned {
		if now.Before(auth.timestamp) {
			return s3err.ErrRequestNotReadyYet
		}
		if !now.Before(auth.timestamp.Add(auth.expires)) {
			return s3err.ErrExpiredPresignRequest
		}
	} else {
		skew := now.Sub(auth.timestamp)
		if skew > MaxClockSkew || skew < -MaxClockSkew {
			return s3err.ErrRequestTimeTooSkewed
		}
	}

	secret, found := v.lookup(auth.accessKey)
	if !found {
		return s3err.ErrInvalidAccessKeyID
	}
	if auth.service != ServiceS3 || auth.date != auth.timestamp.Format(Iso8601DateFormat) {
		return s3err.ErrCredMalformed
	}

	query := r.URL.Query()
	query.Del(s3consts.XAmzSignature)
	header := http.Header{}
	for _, h := range auth.signedHeaders {
		if h == s3consts.Host {
			continue
		}
		if vals := r.Header.Values(h); len(vals) > 0 {
			header[h] = vals
		} else if h == "content-length" && r.ContentLength >= 0 {
			header[h] = []string{strconv.FormatInt(r.ContentLength, 10)}
		}
	}

	sr, err := SignRequest(Request{
		Method:      r.Method,
		Host:        r.Host,
		Path:        r.URL.Path,
		Query:       query,
		Header:      header,
		PayloadHash: auth.payloadHash,
	}, Credentials{AccessKeyID: auth.accessKey, SecretAccessKey: secret, Region: auth.region}, auth.timestamp)
	if err != nil {
		return s3err.ErrSignatureDoesNotMatch
	}
	if strings.Join(sr.SignedHeaders, ";") != strings.Join(auth.signedHeaders, ";") {
		return s3err.ErrSignatureDoesNotMatch
	}
	if !constantTimeCompare(auth.signature, sr.Signature) {
		return s3err.ErrSignatureDoesNotMatch
	}
	return s3err.ErrNone
}

func (v *Verifier) extractAuthInfo(r *http.Request) (*authInfo, s3err.ErrorCode) {
	if r.URL.Query().Get(s3consts.XAmzCredential) != "" {
		return extractPresignedAuthInfo(r.URL.Query())
	}

	authHeader := r.Header.Get(s3consts.Authorization)
	if authHeader == "" {
		return nil, s3err.ErrAccessDenied
	}
	if !strings.HasPrefix(authHeader, AuthHeaderV4+" ") {
		return nil, s3err.ErrUnsupportedAlgorithm
	}

	auth := &authInfo{}
	for _, part := range strings.Split(strings.TrimPrefix(authHeader, AuthHeaderV4+" "), ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "Credential":
			if err := auth.parseCredential(kv[1]); err != nil {
				return nil, s3err.ErrCredMalformed
			}
		case "SignedHeaders":
			auth.signedHeaders = strings.Split(kv[1], ";")
		case "Signature":
			auth.signature = kv[1]
		}
	}
	switch {
	case auth.accessKey == "":
		return nil, s3err.ErrMissingCredTag
	case len(auth.signedHeaders) == 0:
		return nil, s3err.ErrMissingSignHeadersTag
	case auth.signature == "":
		return nil, s3err.ErrMissingSignTag
	}

	ts, err := time.Parse(Iso8601BasicFormat, r.Header.Get(s3consts.XAmzDate))
	if err != nil {
		return nil, s3err.ErrMalformedDate
	}
	auth.timestamp = ts
	auth.payloadHash = r.Header.Get(s3consts.XAmzContentSHA256)
	return auth, s3err.ErrNone
}

func extractPresignedAuthInfo(q url.Values) (*authInfo, s3err.ErrorCode) {
	if q.Get(s3consts.XAmzAlgorithm) != AuthHeaderV4 {
		return nil, s3err.ErrUnsupportedAlgorithm
	}
	auth := &authInfo{presigned: true, payloadHash: UnsignedPayload}
	if err := auth.parseCredential(q.Get(s3consts.XAmzCredential)); err != nil {
		return nil, s3err.ErrCredMalformed
	}

	ts, err := time.Parse(Iso8601BasicFormat, q.Get(s3consts.XAmzDateQuery))
	if err != nil {
		return nil, s3err.ErrMalformedPresignedDate
	}
	auth.timestamp = ts

	expires, err := strconv.ParseInt(q.Get(s3consts.XAmzExpires), 10, 64)
	switch {
	case err != nil:
		return nil, s3err.ErrMalformedExpires
	case expires < 0:
		return nil, s3err.ErrNegativeExpires
	case expires > s3consts.MaxPresignExpiry:
		return nil, s3err.ErrMaximumExpires
	}
	auth.expires = time.Duration(expires) * time.Second

	if sh := q.Get(s3consts.XAmzSignedHeaders); sh != "" {
		auth.signedHeaders = strings.Split(sh, ";")
	} else {
		return nil, s3err.ErrMissingSignHeadersTag
	}
	auth.signature = q.Get(s3consts.XAmzSignature)
	if auth.signature == "" {
		return nil, s3err.ErrMissingSignTag
	}
	if h := q.Get(s3consts.XAmzContentSHA256); h != "" {
		auth.payloadHash = h
	}
	return auth, s3err.ErrNone
}

// parseCredential reads accessKey/date/region/service/aws4_request.
func (a *authInfo) parseCredential(cred string) error {
	parts := strings.Split(cred, "/")
	if len(parts) != 5 || parts[4] != ScopeTerminator {
		return fmt.Errorf("invalid credential format")
	}
	a.accessKey = parts[0]
	a.date = parts[1]
	a.region = parts[2]
	a.service = parts[3]
	return nil
}

// constantTimeCompare performs constant-time string comparison to prevent timing attacks
func constantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
