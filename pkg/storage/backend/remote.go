// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

// Remote owns attachments whose bytes live in the bucket.
type Remote struct {
	cfg   *types.UploadConfig
	files *Files
	store ObjectStore
}

// NewRemote builds the bucket backend. files may be nil in direct mode, in
// which case AfterUpload is unavailable.
func NewRemote(cfg *types.UploadConfig, files *Files, store ObjectStore) *Remote {
	return &Remote{cfg: cfg, files: files, store: store}
}

func (r *Remote) Kind() types.StorageKind {
	return types.StorageRemote
}

func (r *Remote) PrepareUploadConfig(ctx context.Context, cfg *ClientConfig) error {
	switch r.cfg.Mode {
	case types.ModeDirect:
		cfg.UploadURL = strings.TrimRight(r.store.Endpoint(), "/")
	case types.ModeRelay:
		cfg.UploadURL = r.cfg.RelayURL
	default:
		return errs.Configuration("upload_config", "unknown upload mode "+r.cfg.Mode.String())
	}
	cfg.CDNURL = r.cfg.CDNURL
	cfg.Bucket = r.store.Bucket()
	cfg.Storage = types.StorageRemote
	return nil
}

// AfterUpload copies the landed file for a into the bucket under the same key
// and records the public URL on a. The caller flips a.Storage once the copy
// is confirmed.
func (r *Remote) AfterUpload(ctx context.Context, a *types.Attachment) error {
	if r.files == nil {
		return errs.Configuration("after_upload", "no local file area configured")
	}
	f, err := r.files.Open(ctx, a.URL)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return errs.Validation("after_upload", "local file is missing")
		}
		return errs.Internal("after_upload", "open local file", err)
	}
	defer f.Close()

	key := strings.TrimLeft(a.URL, "/")
	if _, err := r.store.PutObject(ctx, r.store.Bucket(), key, f, a.Mimetype); err != nil {
		return err
	}
	a.RemoteURL = types.StringPtr(types.JoinURL(r.cfg.CDNURL, a.URL))

	logger.Ctx(ctx).Debug().
		Str("key", key).
		Int64("size", a.Filesize).
		Msg("copied upload to bucket")
	return nil
}

func (r *Remote) BeforeDelete(ctx context.Context, a *types.Attachment) error {
	if !r.cfg.SyncDelete || a.Storage != types.StorageRemote {
		return nil
	}
	_, err := r.store.DeleteObject(ctx, r.store.Bucket(), strings.TrimLeft(a.URL, "/"))
	return err
}
