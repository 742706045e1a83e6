// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"net/url"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
)

const (
	AuthHeaderV4 = "AWS4-HMAC-SHA256"

	Iso8601BasicFormat = "20060102T150405Z"
	Iso8601DateFormat  = "20060102"

	ServiceS3       = "s3"
	ScopeTerminator = "aws4_request"

	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// Precomputed SHA256 hash of an empty payload
	HashedEmptyPayload = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// Credentials is the immutable identity of one deployment's bucket.
// SessionToken is only set for temporary credentials.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string
	Region          string
	Bucket          string
}

// Validate checks that every field needed to reach the store is present.
func (c Credentials) Validate() error {
	switch {
	case c.AccessKeyID == "":
		return errs.Configuration("credentials", "access key id is required")
	case c.SecretAccessKey == "":
		return errs.Configuration("credentials", "secret access key is required")
	case c.Region == "":
		return errs.Configuration("credentials", "region is required")
	case c.Bucket == "":
		return errs.Configuration("credentials", "bucket is required")
	case c.Endpoint == "":
		return errs.Configuration("credentials", "endpoint is required")
	}
	_, err := c.EndpointURL()
	return err
}

func (c Credentials) validateSigning() error {
	switch {
	case c.AccessKeyID == "":
		return errs.Configuration("sign", "access key id is required")
	case c.SecretAccessKey == "":
		return errs.Configuration("sign", "secret access key is required")
	case c.Region == "":
		return errs.Configuration("sign", "region is required")
	}
	return nil
}

// EndpointURL parses the endpoint. Path-style addressing is used, so the
// endpoint itself must not carry a path.
func (c Credentials) EndpointURL() (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(c.Endpoint, "/"))
	if err != nil {
		return nil, errs.Configuration("credentials", "endpoint is not a valid URL: "+err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errs.Configuration("credentials", "endpoint scheme must be http or https")
	}
	if u.Host == "" {
		return nil, errs.Configuration("credentials", "endpoint host is required")
	}
	if u.Path != "" || u.RawQuery != "" {
		return nil, errs.Configuration("credentials", "endpoint must not contain a path or query")
	}
	return u, nil
}

// Scope returns <date>/<region>/s3/aws4_request for t.
func (c Credentials) Scope(t time.Time) string {
	return strings.Join([]string{t.UTC().Format(Iso8601DateFormat), c.Region, ServiceS3, ScopeTerminator}, "/")
}

func (c Credentials) String() string {
	return "Credentials{AccessKeyID: " + c.AccessKeyID + ", Endpoint: " + c.Endpoint +
		", Region: " + c.Region + ", Bucket: " + c.Bucket + "}"
}
