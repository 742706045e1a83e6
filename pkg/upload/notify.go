// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db"
	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

// NotifyRequest reports a file the client PUT straight to the bucket.
type NotifyRequest struct {
	URL      string
	Name     string
	Size     int64
	MD5      string
	Type     string
	Width    *int
	Height   *int
	Category string
	AdminID  int64
	UserID   int64
}

// Notify records a direct upload. Repeating it for the same URL returns the
// existing record.
func (c *Coordinator) Notify(ctx context.Context, req NotifyRequest) (*types.Attachment, bool, error) {
	start := time.Now()
	a, created, err := c.notify(ctx, req)
	observe(opNotify, err, start)
	return a, created, err
}

func (c *Coordinator) notify(ctx context.Context, req NotifyRequest) (*types.Attachment, bool, error) {
	if c.cfg.Mode != types.ModeDirect {
		return nil, false, errs.Validation(opNotify, "notify is only used in client upload mode")
	}
	if objectKey(req.URL) == "" {
		return nil, false, errs.Validation(opNotify, "url is required")
	}
	if req.Size < 0 {
		return nil, false, errs.Validation(opNotify, "file size cannot be negative")
	}
	url := objectURL(req.URL)

	existing, err := c.db.FindByURL(ctx, url, types.StorageRemote)
	if err == nil {
		dedupedTotal.WithLabelValues(opNotify).Inc()
		return existing, false, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, errs.Internal(opNotify, "load attachment", err)
	}

	name := CleanFilename(req.Name)
	now := c.now()
	a := &types.Attachment{
		URL:         url,
		Storage:     types.StorageRemote,
		Category:    types.NormalizeCategory(req.Category),
		AdminID:     req.AdminID,
		UserID:      req.UserID,
		Filename:    name,
		Filesize:    req.Size,
		Mimetype:    req.Type,
		ImageType:   Suffix(name),
		ImageWidth:  req.Width,
		ImageHeight: req.Height,
		Checksum:    req.MD5,
		RemoteURL:   types.StringPtr(c.fullURL(url)),
		UploadTime:  now,
		CreateTime:  now,
		UpdateTime:  now,
	}
	created, err := c.db.Create(ctx, a)
	if err != nil {
		return nil, false, errs.Internal(opNotify, "create attachment", err)
	}
	if !created {
		// Lost a race with another notify for the same URL.
		if existing, err = c.db.Get(ctx, a.ID); err == nil {
			a = existing
		}
		dedupedTotal.WithLabelValues(opNotify).Inc()
	} else {
		c.events.EmitAttachmentCreated(ctx, a)
	}
	logger.Ctx(ctx).Info().
		Str("url", url).
		Int64("id", a.ID).
		Bool("created", created).
		Msg("direct upload recorded")
	return a, created, nil
}
