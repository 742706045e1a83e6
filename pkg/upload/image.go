// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

// imageSize reads the header of an image upload. Non-images and formats
// without a registered decoder report nil dimensions.
func imageSize(r io.Reader) (width, height *int) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, nil
	}
	return types.IntPtr(cfg.Width), types.IntPtr(cfg.Height)
}
