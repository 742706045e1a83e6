// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

// Local owns attachments whose bytes are still under data_dir.
type Local struct {
	cfg   *types.UploadConfig
	files *Files
}

func NewLocal(cfg *types.UploadConfig, files *Files) *Local {
	return &Local{cfg: cfg, files: files}
}

func (l *Local) Kind() types.StorageKind {
	return types.StorageLocal
}

func (l *Local) PrepareUploadConfig(ctx context.Context, cfg *ClientConfig) error {
	cfg.UploadURL = l.cfg.RelayURL
	cfg.Storage = types.StorageLocal
	return nil
}

// AfterUpload has nothing to do: the bytes are already where they belong.
func (l *Local) AfterUpload(ctx context.Context, a *types.Attachment) error {
	return nil
}

func (l *Local) BeforeDelete(ctx context.Context, a *types.Attachment) error {
	if a.Storage != types.StorageLocal {
		return nil
	}
	if err := l.files.Remove(ctx, a.URL); err != nil {
		return errs.Internal("delete", fmt.Sprintf("remove local file %s", a.URL), err)
	}
	return nil
}
