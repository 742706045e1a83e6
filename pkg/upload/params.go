// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3consts"
)

// ParamsRequest asks for upload parameters for one file.
type ParamsRequest struct {
	Name string
	MD5  string
	// Chunk requests a multipart session with one pre-signed URL per part.
	Chunk     bool
	Size      int64
	ChunkSize int64
}

// PartRef names one part the client is expected to upload.
type PartRef struct {
	PartNumber int `json:"PartNumber"`
}

// ParamsResult is everything a client needs to upload the file.
type ParamsResult struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	URL    string `json:"url"`
	Expire int64  `json:"expire"`

	UploadID string    `json:"uploadId,omitempty"`
	Parts    []PartRef `json:"parts,omitempty"`
	PartURLs []string  `json:"partUrls,omitempty"`
}

// Params derives the object key, pre-signs a PUT for it and, for chunked
// uploads, opens a multipart session and pre-signs every part.
func (c *Coordinator) Params(ctx context.Context, req ParamsRequest) (*ParamsResult, error) {
	start := time.Now()
	res, err := c.params(ctx, req)
	observe(opParams, err, start)
	return res, err
}

func (c *Coordinator) params(ctx context.Context, req ParamsRequest) (*ParamsResult, error) {
	name := CleanFilename(req.Name)
	if name == "" {
		return nil, errs.Validation(opParams, "file name is required")
	}
	if err := CheckExtension(name, c.cfg.Mimetypes); err != nil {
		return nil, err
	}
	if err := c.checkSize(opParams, req.Size); err != nil {
		return nil, err
	}

	partCount, chunkSize := 0, req.ChunkSize
	if req.Chunk {
		if chunkSize <= 0 {
			chunkSize = c.cfg.ChunkSize
		}
		var err error
		if partCount, err = countParts(req.Size, chunkSize); err != nil {
			return nil, err
		}
	}

	now := c.now()
	key := strings.TrimLeft(SaveKey(c.cfg.SaveKey, name, req.MD5, now), "/")
	bucket := c.store.Bucket()
	ttl := c.cfg.TokenTTL

	put, err := c.store.PresignPutObject(ctx, bucket, key, ttl)
	if err != nil {
		return nil, err
	}
	res := &ParamsResult{
		ID:     c.store.AccessKeyID(),
		Key:    key,
		URL:    put.URL,
		Expire: now.Add(ttl).Unix(),
	}
	if !req.Chunk {
		return res, nil
	}

	uploadID, err := c.store.InitiateMultipartUpload(ctx, bucket, key, ContentType(name))
	if err != nil {
		return nil, err
	}
	res.UploadID = uploadID
	res.Parts = make([]PartRef, partCount)
	res.PartURLs = make([]string, partCount)
	for i := 0; i < partCount; i++ {
		u, err := c.store.PresignUploadPart(ctx, bucket, key, uploadID, i+1, ttl)
		if err != nil {
			return nil, err
		}
		res.Parts[i] = PartRef{PartNumber: i + 1}
		res.PartURLs[i] = u.URL
	}

	logger.Ctx(ctx).Info().
		Str("key", key).
		Str("upload_id", uploadID).
		Int("parts", partCount).
		Msg("multipart upload initiated")
	return res, nil
}

// countParts is ceil(size/chunkSize), bounded by what a store accepts.
func countParts(size, chunkSize int64) (int, error) {
	if size <= 0 {
		return 0, errs.Validation(opParams, "file size is required for chunked uploads")
	}
	if chunkSize <= 0 {
		return 0, errs.Validation(opParams, "chunk size must be positive")
	}
	n := (size + chunkSize - 1) / chunkSize
	if n > s3consts.MaxPartID {
		return 0, errs.Validation(opParams, fmt.Sprintf("file needs %d parts, more than the %d a store accepts", n, s3consts.MaxPartID))
	}
	if n > 1 && chunkSize < s3consts.MinPartSize {
		return 0, errs.Validation(opParams, "chunk size is below the 5 MiB minimum part size")
	}
	return int(n), nil
}
