// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package backend

import "os"

// Fdatasync falls back to standard Sync on non-Linux platforms.
// On macOS, fsync already has fdatasync-like behavior.
// On Windows, this provides full sync semantics.
func Fdatasync(f *os.File) error {
	return f.Sync()
}

// FadviseDontNeed is a no-op on non-Linux platforms.
// macOS and Windows don't support fadvise.
func FadviseDontNeed(f *os.File) error {
	return nil
}
