// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload coordinates relay and direct uploads into the bucket and
// keeps one attachment record per (url, storage).
package upload

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db"
	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/events"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/signature"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client"
	"github.com/LeeDigitalWorks/uploadgate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/uploadgate/pkg/token"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/utils"
)

// ObjectStore is the part of s3client.Client the coordinator drives.
type ObjectStore interface {
	backend.ObjectStore
	AccessKeyID() string
	PresignPutObject(ctx context.Context, bucket, key string, expiry time.Duration) (*signature.PresignedURL, error)
	PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, expiry time.Duration) (*signature.PresignedURL, error)
	InitiateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, body io.ReadSeeker) (string, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.Part) (*s3client.Response, error)
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) (*s3client.Response, error)
}

// Config wires a Coordinator. Files and Chunks are only required in relay mode.
type Config struct {
	Upload   *types.UploadConfig
	Store    ObjectStore
	Guard    *token.Guard
	Backends *backend.Set
	DB       db.Store
	Files    *backend.Files
	Chunks   *backend.Files
	// Events receives attachment lifecycle events; nil disables them.
	Events *events.Emitter
	Clock  func() time.Time
}

// Coordinator holds no per-upload state: everything needed to resume a
// chunked upload comes back from the caller.
type Coordinator struct {
	cfg      *types.UploadConfig
	store    ObjectStore
	guard    *token.Guard
	backends *backend.Set
	db       db.Store
	files    *backend.Files
	chunks   *backend.Files
	events   *events.Emitter
	now      func() time.Time
}

func New(c Config) (*Coordinator, error) {
	if c.Upload == nil {
		return nil, errs.Configuration("upload", "upload config is required")
	}
	if c.Store == nil || c.Guard == nil || c.Backends == nil || c.DB == nil {
		return nil, errs.Configuration("upload", "store, token guard, backends and attachment db are required")
	}
	if c.Upload.Mode == types.ModeRelay && c.Files == nil {
		return nil, errs.Configuration("upload", "data_dir is required in server upload mode")
	}
	if c.Upload.Mode == types.ModeRelay && c.Upload.Chunking && c.Chunks == nil {
		return nil, errs.Configuration("upload", "chunk_dir is required for chunked relay uploads")
	}
	now := c.Clock
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		cfg:      c.Upload,
		store:    c.Store,
		guard:    c.Guard,
		backends: c.Backends,
		db:       c.DB,
		files:    c.Files,
		chunks:   c.Chunks,
		events:   c.Events,
		now:      now,
	}, nil
}

// Guard is the token guard requests to this coordinator are checked with.
func (c *Coordinator) Guard() *token.Guard {
	return c.guard
}

func (c *Coordinator) Mode() types.UploadMode {
	return c.cfg.Mode
}

// ClientConfig builds the configuration the front end uploads with. A fresh
// capability token is included only when issueToken is set; otherwise
// multipart.r2token is empty.
func (c *Coordinator) ClientConfig(ctx context.Context, issueToken bool) (*backend.ClientConfig, error) {
	var tok string
	if issueToken {
		var err error
		if tok, _, err = c.guard.IssueTTL(c.cfg.TokenTTL); err != nil {
			return nil, err
		}
	}
	cc := &backend.ClientConfig{
		UploadMode: c.cfg.Mode.String(),
		MaxSize:    maxSizeString(c.cfg.MaxSize),
		Mimetype:   strings.Join(c.cfg.Mimetypes, ","),
		SaveKey:    c.cfg.SaveKey,
		Chunking:   c.cfg.Chunking,
		ChunkSize:  c.cfg.ChunkSize,
		Multiple:   c.cfg.Multiple,
		Multipart:  map[string]string{"r2token": tok},
	}
	if err := c.backends.Active().PrepareUploadConfig(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

// DeleteAttachment releases the bytes behind record id and then the record.
func (c *Coordinator) DeleteAttachment(ctx context.Context, id int64) (*types.Attachment, error) {
	start := time.Now()
	a, err := c.deleteAttachment(ctx, id)
	observe(opDelete, err, start)
	return a, err
}

func (c *Coordinator) deleteAttachment(ctx context.Context, id int64) (*types.Attachment, error) {
	a, err := c.db.Get(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, errs.Validation("delete", "attachment not found")
		}
		return nil, errs.Internal("delete", "load attachment", err)
	}
	b, err := c.backends.For(a.Storage)
	if err != nil {
		return nil, errs.Internal("delete", "resolve backend", err)
	}
	if err := b.BeforeDelete(ctx, a); err != nil {
		return nil, err
	}
	if err := c.db.Delete(ctx, id); err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, errs.Internal("delete", "delete attachment", err)
	}
	c.events.EmitAttachmentDeleted(ctx, a)
	logger.Ctx(ctx).Info().
		Int64("id", id).
		Str("url", a.URL).
		Str("storage", a.Storage.String()).
		Msg("attachment deleted")
	return a, nil
}

// fullURL is the public CDN address of a stored key.
func (c *Coordinator) fullURL(url string) string {
	return types.JoinURL(c.cfg.CDNURL, url)
}

func (c *Coordinator) checkSize(op string, size int64) error {
	if size < 0 {
		return errs.Validation(op, "file size cannot be negative")
	}
	if c.cfg.MaxSize > 0 && size > c.cfg.MaxSize {
		return errs.Validation(op, "file exceeds the size limit of "+maxSizeString(c.cfg.MaxSize))
	}
	return nil
}

// objectURL is the record URL of key: always one leading slash.
func objectURL(key string) string {
	return "/" + strings.TrimLeft(key, "/")
}

func objectKey(url string) string {
	return strings.TrimLeft(url, "/")
}

func maxSizeString(n int64) string {
	if n <= 0 {
		return ""
	}
	return utils.FormatSize(n)
}
