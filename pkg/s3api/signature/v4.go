// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/uploadgate/pkg/utils"

	"github.com/minio/sha256-simd"
)

// AWS Signature Version 4 implementation following:
// https://docs.aws.amazon.com/general/latest/gr/signature-version-4.html

// Request is the input to SignRequest. Path is unescaped; Header holds every
// header to sign except host, which is taken from Host.
type Request struct {
	Method      string
	Host        string
	Path        string
	Query       url.Values
	Header      http.Header
	PayloadHash string
}

// SignedRequest carries every intermediate value so callers and tests can
// inspect the canonicalization.
type SignedRequest struct {
	Method               string
	CanonicalURI         string
	CanonicalQueryString string
	CanonicalHeaders     string
	SignedHeaders        []string
	PayloadHash          string
	CanonicalRequest     string
	StringToSign         string
	Signature            string
	Authorization        string
	Timestamp            string
}

// PresignedURL is a time-limited URL that needs no further credentials.
type PresignedURL struct {
	Method  string    `json:"method"`
	URL     string    `json:"url"`
	Expires time.Time `json:"expires"`
}

// SignRequest is a pure function of its inputs: identical inputs always
// produce an identical signature.
func SignRequest(req Request, creds Credentials, t time.Time) (*SignedRequest, error) {
	if err := creds.validateSigning(); err != nil {
		return nil, err
	}
	if req.Method == "" {
		return nil, errs.Validation("sign", "method is required")
	}
	if req.Host == "" {
		return nil, errs.Validation("sign", "host is required")
	}

	t = t.UTC()
	payloadHash := req.PayloadHash
	if payloadHash == "" {
		payloadHash = HashedEmptyPayload
	}

	sr := &SignedRequest{
		Method:               strings.ToUpper(req.Method),
		CanonicalURI:         EncodePath(req.Path),
		CanonicalQueryString: canonicalQueryString(req.Query),
		PayloadHash:          payloadHash,
		Timestamp:            t.Format(Iso8601BasicFormat),
	}
	sr.CanonicalHeaders, sr.SignedHeaders = canonicalHeaders(req.Host, req.Header)

	signedHeaders := strings.Join(sr.SignedHeaders, ";")
	sr.CanonicalRequest = strings.Join([]string{
		sr.Method,
		sr.CanonicalURI,
		sr.CanonicalQueryString,
		sr.CanonicalHeaders,
		signedHeaders,
		sr.PayloadHash,
	}, "\n")

	scope := creds.Scope(t)
	sr.StringToSign = buildStringToSign(sr.Timestamp, scope, sr.CanonicalRequest)

	signingKey := deriveSigningKey(creds.SecretAccessKey, t.Format(Iso8601DateFormat), creds.Region, ServiceS3)
	sr.Signature = calculateSignature(signingKey, sr.StringToSign)
	sr.Authorization = AuthHeaderV4 + " Credential=" + creds.AccessKeyID + "/" + scope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + sr.Signature
	return sr, nil
}

// Presign builds a query-authenticated URL for method on path, valid for
// expiry from t. The payload is always UNSIGNED-PAYLOAD.
func Presign(method, path string, query url.Values, expiry time.Duration, creds Credentials, t time.Time) (*PresignedURL, error) {
	if err := creds.validateSigning(); err != nil {
		return nil, err
	}
	endpoint, err := creds.EndpointURL()
	if err != nil {
		return nil, err
	}
	seconds := int64(expiry / time.Second)
	if seconds <= 0 {
		return nil, errs.Validation("presign", "expiry must be at least one second")
	}
	if seconds > s3consts.MaxPresignExpiry {
		return nil, errs.Validation("presign", "expiry must not exceed 7 days")
	}

	t = t.UTC()
	q := url.Values{}
	for k, vals := range query {
		q[k] = append([]string(nil), vals...)
	}
	q.Set(s3consts.XAmzAlgorithm, AuthHeaderV4)
	q.Set(s3consts.XAmzCredential, creds.AccessKeyID+"/"+creds.Scope(t))
	q.Set(s3consts.XAmzDateQuery, t.Format(Iso8601BasicFormat))
	q.Set(s3consts.XAmzExpires, strconv.FormatInt(seconds, 10))
	q.Set(s3consts.XAmzSignedHeaders, s3consts.Host)
	q.Del(s3consts.XAmzSignature)
	q.Del(s3consts.XAmzSecurityToken)
	if creds.SessionToken != "" {
		q.Set(s3consts.XAmzSecurityToken, creds.SessionToken)
	}

	sr, err := SignRequest(Request{
		Method:      method,
		Host:        endpoint.Host,
		Path:        path,
		Query:       q,
		PayloadHash: UnsignedPayload,
	}, creds, t)
	if err != nil {
		return nil, err
	}

	return &PresignedURL{
		Method: sr.Method,
		URL: endpoint.Scheme + "://" + endpoint.Host + sr.CanonicalURI + "?" +
			sr.CanonicalQueryString + "&" + s3consts.XAmzSignature + "=" + sr.Signature,
		Expires: t.Add(time.Duration(seconds) * time.Second),
	}, nil
}

// Signer signs outbound requests with one set of credentials.
type Signer struct {
	creds Credentials
	now   func() time.Time
}

type SignerOption func(*Signer)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

func NewSigner(creds Credentials, opts ...SignerOption) (*Signer, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	s := &Signer{creds: creds, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Signer) Credentials() Credentials {
	return s.creds
}

// Sign sets X-Amz-Date, X-Amz-Content-Sha256, X-Amz-Security-Token (for
// temporary credentials) and Authorization on r. Every header already present
// on r is signed, so callers set them first. The URL path is rewritten to its
// canonical encoding so the wire matches.
func (s *Signer) Sign(r *http.Request, payloadHash string) (*SignedRequest, error) {
	if payloadHash == "" {
		payloadHash = HashedEmptyPayload
	}
	t := s.now().UTC()
	r.Header.Del(s3consts.Authorization)
	r.Header.Set(s3consts.XAmzDate, t.Format(Iso8601BasicFormat))
	r.Header.Set(s3consts.XAmzContentSHA256, payloadHash)
	r.Header.Del(s3consts.XAmzSecurityToken)
	if s.creds.SessionToken != "" {
		r.Header.Set(s3consts.XAmzSecurityToken, s.creds.SessionToken)
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	sr, err := SignRequest(Request{
		Method:      r.Method,
		Host:        host,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		Header:      r.Header,
		PayloadHash: payloadHash,
	}, s.creds, t)
	if err != nil {
		return nil, err
	}
	r.URL.RawPath = sr.CanonicalURI
	r.Header.Set(s3consts.Authorization, sr.Authorization)
	return sr, nil
}

// Presign signs path relative to the configured endpoint at the current time.
func (s *Signer) Presign(method, path string, query url.Values, expiry time.Duration) (*PresignedURL, error) {
	return Presign(method, path, query, expiry, s.creds, s.now())
}

// HashPayload returns the lowercase hex SHA-256 of b.
func HashPayload(b []byte) string {
	h := utils.Sha256PoolGetHasher()
	defer utils.Sha256PoolPutHasher(h)
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

func buildStringToSign(timestamp, scope, canonicalRequest string) string {
	return strings.Join([]string{
		AuthHeaderV4,
		timestamp,
		scope,
		HashPayload([]byte(canonicalRequest)),
	}, "\n")
}

// deriveSigningKey derives the signing key using HMAC-SHA256 chain
func deriveSigningKey(secretKey, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(ScopeTerminator))
}

func calculateSignature(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
