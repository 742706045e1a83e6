// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package s3consts

// http://docs.aws.amazon.com/AmazonS3/latest/dev/UploadingObjects.html
const (
	// MaxObjectSize is the maximum object size per PUT request (5GiB)
	MaxObjectSize = 1024 * 1024 * 1024 * 5
	// MaxPartID is the maximum Part ID for multipart upload (10000)
	MaxPartID = 10000
	// MinPartSize is the smallest part a store accepts, except for the last one.
	MinPartSize = 5 * 1024 * 1024
	// MaxPresignExpiry is the longest validity a SigV4 pre-signed URL may carry, in seconds.
	MaxPresignExpiry = 7 * 24 * 60 * 60

	// --- Headers ---
	Authorization     = "Authorization"
	ContentType       = "Content-Type"
	ETag              = "ETag"
	Host              = "host"
	XAmzDate          = "x-amz-date"
	XAmzRequestID     = "x-amz-request-id"
	XAmzContentSHA256 = "x-amz-content-sha256"
	XAmzChecksumCRC64 = "x-amz-checksum-crc64nvme"
	// XAmzSecurityToken carries the session token of temporary credentials,
	// as a header or a pre-signed query parameter.
	XAmzSecurityToken = "X-Amz-Security-Token"

	// --- Pre-signed query parameters (case-sensitive) ---
	XAmzAlgorithm     = "X-Amz-Algorithm"
	XAmzCredential    = "X-Amz-Credential"
	XAmzDateQuery     = "X-Amz-Date"
	XAmzExpires       = "X-Amz-Expires"
	XAmzSignedHeaders = "X-Amz-SignedHeaders"
	XAmzSignature     = "X-Amz-Signature"

	// --- Multipart sub-resources ---
	QueryUploads    = "uploads"
	QueryUploadID   = "uploadId"
	QueryPartNumber = "partNumber"
)
