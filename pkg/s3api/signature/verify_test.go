// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3err"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func presignedRequest(t *testing.T, method string, expiry time.Duration) *http.Request {
	t.Helper()
	p, err := Presign(method, "/examplebucket/photos/cat.png", nil, expiry, testCreds(), testTime)
	require.NoError(t, err)
	return httptest.NewRequest(method, p.URL, nil)
}

func TestVerifier_PresignedExpiryBoundary(t *testing.T) {
	t.Parallel()

	const expiry = 600 * time.Second
	tests := []struct {
		name string
		now  time.Time
		want s3err.ErrorCode
	}{
		{"at issue time", testTime, s3err.ErrNone},
		{"mid window", testTime.Add(expiry / 2), s3err.ErrNone},
		{"one second before expiry", testTime.Add(expiry - time.Second), s3err.ErrNone},
		{"exactly at expiry", testTime.Add(expiry), s3err.ErrExpiredPresignRequest},
		{"after expiry", testTime.Add(expiry + time.Hour), s3err.ErrExpiredPresignRequest},
		{"before issue time", testTime.Add(-time.Second), s3err.ErrRequestNotReadyYet},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := NewVerifier(StaticCredentials(testAccessKey, testSecretKey), fixedClock(tc.now))
			assert.Equal(t, tc.want, v.VerifyRequest(presignedRequest(t, http.MethodPut, expiry)))
		})
	}
}

func TestVerifier_PresignedTampering(t *testing.T) {
	t.Parallel()

	v := NewVerifier(StaticCredentials(testAccessKey, testSecretKey), fixedClock(testTime))

	r := presignedRequest(t, http.MethodGet, time.Hour)
	r.Method = http.MethodPut
	assert.Equal(t, s3err.ErrSignatureDoesNotMatch, v.VerifyRequest(r))

	r = presignedRequest(t, http.MethodGet, time.Hour)
	r.URL.Path = "/examplebucket/photos/dog.png"
	assert.Equal(t, s3err.ErrSignatureDoesNotMatch, v.VerifyRequest(r))

	r = presignedRequest(t, http.MethodGet, time.Hour)
	q := r.URL.Query()
	q.Set("X-Amz-Expires", "7200")
	r.URL.RawQuery = q.Encode()
	assert.Equal(t, s3err.ErrSignatureDoesNotMatch, v.VerifyRequest(r))

	other := NewVerifier(StaticCredentials("SOMEONEELSE", testSecretKey), fixedClock(testTime))
	assert.Equal(t, s3err.ErrInvalidAccessKeyID, other.VerifyRequest(presignedRequest(t, http.MethodGet, time.Hour)))
}

func TestVerifier_HeaderSigned(t *testing.T) {
	t.Parallel()

	creds := testCreds()
	signer, err := NewSigner(creds, WithClock(fixedClock(testTime)))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "https://"+testHost+"/examplebucket/big.iso?uploads", nil)
	r.Header.Set("Content-Type", "application/octet-stream")
	_, err = signer.Sign(r, "")
	require.NoError(t, err)

	v := NewVerifier(StaticCredentials(testAccessKey, testSecretKey), fixedClock(testTime.Add(time.Minute)))
	assert.Equal(t, s3err.ErrNone, v.VerifyRequest(r))

	skewed := NewVerifier(StaticCredentials(testAccessKey, testSecretKey), fixedClock(testTime.Add(MaxClockSkew+time.Second)))
	assert.Equal(t, s3err.ErrRequestTimeTooSkewed, skewed.VerifyRequest(r))

	r.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, s3err.ErrSignatureDoesNotMatch, v.VerifyRequest(r))
}

func TestVerifier_MalformedAuthorization(t *testing.T) {
	t.Parallel()

	v := NewVerifier(StaticCredentials(testAccessKey, testSecretKey), fixedClock(testTime))
	tests := []struct {
		name   string
		header string
		want   s3err.ErrorCode
	}{
		{"missing", "", s3err.ErrAccessDenied},
		{"v2", "AWS AKID:sig", s3err.ErrUnsupportedAlgorithm},
		{"bad credential", "AWS4-HMAC-SHA256 Credential=AKID/20130524/us-east-1, SignedHeaders=host, Signature=abc", s3err.ErrCredMalformed},
		{"no signature", "AWS4-HMAC-SHA256 Credential=AKID/20130524/us-east-1/s3/aws4_request, SignedHeaders=host", s3err.ErrMissingSignTag},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "https://"+testHost+"/k", nil)
			r.Header.Set("X-Amz-Date", testTime.Format(Iso8601BasicFormat))
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, v.VerifyRequest(r))
		})
	}
}
