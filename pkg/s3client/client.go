// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3client talks to one S3-compatible bucket over plain HTTP, signing
// every request with SigV4. It covers exactly what uploads need: single PUT,
// DELETE, and the multipart state machine.
package s3client

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/signature"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
)

const (
	defaultTimeout      = 5 * time.Minute
	defaultMaxIdleConns = 100
	// maxResponseBody caps how much of a store response is buffered.
	maxResponseBody = 4 << 20
)

// Config holds configuration for the store connection.
type Config struct {
	// Credentials supplies the endpoint, region and bucket, and the keys to
	// sign with unless Provider is set.
	Credentials signature.Credentials
	// Provider, when set, is retrieved before every signing so temporary
	// credentials are refreshed as they expire. Wrap it in an
	// aws.CredentialsCache; Retrieve is called per request.
	Provider     aws.CredentialsProvider
	Timeout      time.Duration
	MaxIdleConns int
	// ChecksumCRC64NVME sends x-amz-checksum-crc64nvme with PutObject.
	ChecksumCRC64NVME bool
	// HTTPClient overrides the pooled client, mainly for tests.
	HTTPClient *http.Client
	// Clock overrides time.Now for signing.
	Clock func() time.Time
}

// Response is the raw outcome of one store call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is safe for concurrent use; it holds no per-upload state.
type Client struct {
	provider   aws.CredentialsProvider
	signerOpts []signature.SignerOption

	mu     sync.RWMutex
	signer *signature.Signer

	endpoint   *url.URL
	bucket     string
	httpClient *http.Client
	checksum   bool
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := cfg.Credentials.EndpointURL()
	if err != nil {
		return nil, err
	}

	var opts []signature.SignerOption
	if cfg.Clock != nil {
		opts = append(opts, signature.WithClock(cfg.Clock))
	}
	signer, err := signature.NewSigner(cfg.Credentials, opts...)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		maxIdle := cfg.MaxIdleConns
		if maxIdle == 0 {
			maxIdle = defaultMaxIdleConns
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        maxIdle,
				MaxIdleConnsPerHost: maxIdle,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		provider:   cfg.Provider,
		signerOpts: opts,
		signer:     signer,
		endpoint:   endpoint,
		bucket:     cfg.Credentials.Bucket,
		httpClient: httpClient,
		checksum:   cfg.ChecksumCRC64NVME,
	}, nil
}

// Bucket is the configured bucket.
func (c *Client) Bucket() string {
	return c.bucket
}

// AccessKeyID identifies the credentials requests were last signed with.
func (c *Client) AccessKeyID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signer.Credentials().AccessKeyID
}

// currentSigner returns a signer for the provider's current credentials,
// rebuilding it when they changed.
func (c *Client) currentSigner(ctx context.Context) (*signature.Signer, error) {
	c.mu.RLock()
	signer := c.signer
	c.mu.RUnlock()
	if c.provider == nil {
		return signer, nil
	}

	v, err := c.provider.Retrieve(ctx)
	if err != nil {
		return nil, errs.Transport("retrieve_credentials", err)
	}
	creds := withAWSCredentials(signer.Credentials(), v)
	if creds == signer.Credentials() {
		return signer, nil
	}

	signer, err = signature.NewSigner(creds, c.signerOpts...)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.signer = signer
	c.mu.Unlock()
	logger.Ctx(ctx).Debug().Str("access_key_id", creds.AccessKeyID).Msg("object store credentials refreshed")
	return signer, nil
}

// Endpoint is the store base URL.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// ObjectPath returns the path-style /bucket/key path, unescaped.
func ObjectPath(bucket, key string) string {
	return "/" + bucket + "/" + strings.TrimLeft(key, "/")
}

// PresignPutObject returns a URL a client can PUT the whole object to.
func (c *Client) PresignPutObject(ctx context.Context, bucket, key string, expiry time.Duration) (*signature.PresignedURL, error) {
	if err := checkObject(bucket, key); err != nil {
		return nil, err
	}
	signer, err := c.currentSigner(ctx)
	if err != nil {
		return nil, err
	}
	return signer.Presign(http.MethodPut, ObjectPath(bucket, key), nil, expiry)
}

// PresignUploadPart returns a URL a client can PUT one part to.
func (c *Client) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, expiry time.Duration) (*signature.PresignedURL, error) {
	if err := checkPart(bucket, key, uploadID, partNumber); err != nil {
		return nil, err
	}
	q := url.Values{
		s3consts.QueryPartNumber: {strconv.Itoa(partNumber)},
		s3consts.QueryUploadID:   {uploadID},
	}
	signer, err := c.currentSigner(ctx)
	if err != nil {
		return nil, err
	}
	return signer.Presign(http.MethodPut, ObjectPath(bucket, key), q, expiry)
}

// PutObject uploads body in one request. body is read fully to hash it and
// then rewound, so it must be seekable.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, contentType string) (*Response, error) {
	const op = "put_object"
	if err := checkObject(bucket, key); err != nil {
		return nil, err
	}
	header := http.Header{}
	if contentType != "" {
		header.Set(s3consts.ContentType, contentType)
	}
	resp, err := c.do(ctx, op, http.MethodPut, bucket, key, nil, header, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, errs.RemoteProtocol(op, "unexpected status", resp.StatusCode, resp.Body)
	}
	return resp, nil
}

// DeleteObject removes key. 200 and 204 both count as success.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) (*Response, error) {
	const op = "delete_object"
	if err := checkObject(bucket, key); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, op, http.MethodDelete, bucket, key, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return resp, errs.RemoteProtocol(op, "unexpected status", resp.StatusCode, resp.Body)
	}
	return resp, nil
}

// InitiateMultipartUpload opens a session and returns its upload id.
func (c *Client) InitiateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error) {
	const op = "initiate_multipart_upload"
	if err := checkObject(bucket, key); err != nil {
		return "", err
	}
	header := http.Header{}
	if contentType != "" {
		header.Set(s3consts.ContentType, contentType)
	}
	resp, err := c.do(ctx, op, http.MethodPost, bucket, key, url.Values{s3consts.QueryUploads: {""}}, header, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.RemoteProtocol(op, "unexpected status", resp.StatusCode, resp.Body)
	}

	var result s3types.InitiateMultipartUploadResult
	if err := xml.Unmarshal(resp.Body, &result); err != nil || result.UploadID == "" {
		return "", errs.RemoteProtocol(op, "response has no UploadId", resp.StatusCode, resp.Body)
	}
	return result.UploadID, nil
}

// UploadPart sends one part and returns its ETag with quotes stripped.
func (c *Client) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body io.ReadSeeker) (string, error) {
	const op = "upload_part"
	if err := checkPart(bucket, key, uploadID, partNumber); err != nil {
		return "", err
	}
	q := url.Values{
		s3consts.QueryPartNumber: {strconv.Itoa(partNumber)},
		s3consts.QueryUploadID:   {uploadID},
	}
	resp, err := c.do(ctx, op, http.MethodPut, bucket, key, q, nil, body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.RemoteProtocol(op, "unexpected status", resp.StatusCode, resp.Body)
	}
	etag := types.TrimETag(resp.Header.Get(s3consts.ETag))
	if etag == "" {
		return "", errs.RemoteProtocol(op, "response has no ETag", resp.StatusCode, resp.Body)
	}
	return etag, nil
}

// CompleteMultipartUpload assembles parts, which must be exactly 1..N with
// non-empty ETags. A malformed list fails locally without a remote call.
func (c *Client) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.Part) (*Response, error) {
	const op = "complete_multipart_upload"
	if err := checkObject(bucket, key); err != nil {
		return nil, err
	}
	if uploadID == "" {
		return nil, errs.Validation(op, "upload id is required")
	}
	if err := types.ValidateParts(parts, len(parts)); err != nil {
		return nil, errs.Validation(op, err.Error())
	}

	doc := s3types.CompleteMultipartUploadRequest{Parts: make([]s3types.CompletePart, len(parts))}
	for i, p := range parts {
		doc.Parts[i] = s3types.CompletePart{PartNumber: p.PartNumber, ETag: `"` + types.TrimETag(p.ETag) + `"`}
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, errs.Internal(op, "encode part list", err)
	}

	header := http.Header{}
	header.Set(s3consts.ContentType, "application/xml")
	resp, err := c.do(ctx, op, http.MethodPost, bucket, key, url.Values{s3consts.QueryUploadID: {uploadID}}, header, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, errs.RemoteProtocol(op, "unexpected status", resp.StatusCode, resp.Body)
	}
	// S3 may report a failed completion with 200 and an Error document.
	if _, isErr := s3err.Parse(resp.Body); isErr {
		return resp, errs.RemoteProtocol(op, "store rejected completion", resp.StatusCode, resp.Body)
	}
	return resp, nil
}

// AbortMultipartUpload discards a session and its uploaded parts.
func (c *Client) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) (*Response, error) {
	const op = "abort_multipart_upload"
	if err := checkObject(bucket, key); err != nil {
		return nil, err
	}
	if uploadID == "" {
		return nil, errs.Validation(op, "upload id is required")
	}
	resp, err := c.do(ctx, op, http.MethodDelete, bucket, key, url.Values{s3consts.QueryUploadID: {uploadID}}, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return resp, errs.RemoteProtocol(op, "unexpected status", resp.StatusCode, resp.Body)
	}
	return resp, nil
}

// ParseCompleteResult decodes a CompleteMultipartUploadResult body.
func ParseCompleteResult(body []byte) (*s3types.CompleteMultipartUploadResult, error) {
	var result s3types.CompleteMultipartUploadResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, errs.RemoteProtocol("complete_multipart_upload", "malformed completion result", http.StatusOK, body)
	}
	result.ETag = types.TrimETag(result.ETag)
	return &result, nil
}

// do builds, signs and sends one request. The response body is always
// drained and closed.
func (c *Client) do(ctx context.Context, op, method, bucket, key string, query url.Values, header http.Header, body io.ReadSeeker) (*Response, error) {
	start := time.Now()

	payloadHash := signature.HashedEmptyPayload
	var size int64
	var checksum string
	if body != nil {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, errs.Internal(op, "rewind body", err)
		}
		digest, err := utils.DigestReader(body)
		if err != nil {
			return nil, errs.Internal(op, "hash body", err)
		}
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, errs.Internal(op, "rewind body", err)
		}
		payloadHash = digest.SHA256Hex
		size = digest.Size
		checksum = digest.CRC64NVME
	}

	u := *c.endpoint
	u.Path = ObjectPath(bucket, key)
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, errs.Internal(op, "build request", err)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Body = io.NopCloser(body)
		req.ContentLength = size
		if size == 0 {
			req.Body = http.NoBody
		}
		if c.checksum && op == "put_object" {
			req.Header.Set(s3consts.XAmzChecksumCRC64, checksum)
		}
	}

	signer, err := c.currentSigner(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := signer.Sign(req, payloadHash); err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		observe(op, "transport_error", start)
		logger.Ctx(ctx).Warn().Err(err).Str("op", op).Str("bucket", bucket).Str("key", key).Msg("object store request failed")
		return nil, errs.Transport(op, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		observe(op, "transport_error", start)
		return nil, errs.Transport(op, fmt.Errorf("read response: %w", err))
	}
	observe(op, strconv.Itoa(httpResp.StatusCode), start)

	logger.Ctx(ctx).Debug().
		Str("op", op).
		Str("bucket", bucket).
		Str("key", key).
		Int("status", httpResp.StatusCode).
		Str("store_request_id", httpResp.Header.Get(s3consts.XAmzRequestID)).
		Dur("duration", time.Since(start)).
		Msg("object store request")

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}, nil
}

func checkObject(bucket, key string) error {
	if bucket == "" {
		return errs.Validation("s3client", "bucket is required")
	}
	if strings.Trim(key, "/") == "" {
		return errs.Validation("s3client", "object key is required")
	}
	return nil
}

func checkPart(bucket, key, uploadID string, partNumber int) error {
	if err := checkObject(bucket, key); err != nil {
		return err
	}
	if uploadID == "" {
		return errs.Validation("s3client", "upload id is required")
	}
	if partNumber < 1 || partNumber > s3consts.MaxPartID {
		return errs.Validation("s3client", fmt.Sprintf("part number must be between 1 and %d", s3consts.MaxPartID))
	}
	return nil
}
