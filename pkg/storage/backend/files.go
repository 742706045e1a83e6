// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/LeeDigitalWorks/uploadgate/pkg/utils"
)

// ErrKeyNotFound is returned when a key has no file under the area's root.
var ErrKeyNotFound = errors.New("key not found")

// Files is a directory of keyed files. It serves as the relay landing area
// (data_dir) and as the chunk area (chunk_dir).
type Files struct {
	root string
}

// NewFiles creates root if needed.
func NewFiles(root string) (*Files, error) {
	if root == "" {
		return nil, fmt.Errorf("path required for file area")
	}
	dir, err := utils.EnsureWritableDir(root)
	if err != nil {
		return nil, fmt.Errorf("file area %s: %w", root, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Files{root: abs}, nil
}

func (f *Files) Root() string {
	return f.root
}

// Path maps key to a path under the root. Keys that would escape the root
// are rejected.
func (f *Files) Path(key string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimLeft(filepath.ToSlash(key), "/"))
	if clean == "/" {
		return "", fmt.Errorf("empty key")
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

// Write stores data under key. Bytes go to a temp file in the same directory
// and are renamed into place once synced, so readers never see a partial file.
func (f *Files) Write(ctx context.Context, key string, data io.Reader) (int64, error) {
	path, err := f.Path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: data})
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("write data: %w", err)
	}
	if err := Fdatasync(tmp); err != nil {
		cleanup()
		return 0, fmt.Errorf("sync: %w", err)
	}
	// Landed files are read once more at most, by the copy to the bucket.
	_ = FadviseDontNeed(tmp)
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("rename: %w", err)
	}
	return n, nil
}

// Open returns the file for key. The caller closes it.
func (f *Files) Open(ctx context.Context, key string) (*os.File, error) {
	path, err := f.Path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return nil, err
	}
	return file, nil
}

// Remove deletes key. A missing file is not an error.
func (f *Files) Remove(ctx context.Context, key string) error {
	path, err := f.Path(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveAll deletes the directory for prefix and everything in it.
func (f *Files) RemoveAll(ctx context.Context, prefix string) error {
	path, err := f.Path(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (f *Files) Exists(ctx context.Context, key string) (bool, error) {
	path, err := f.Path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *Files) Size(ctx context.Context, key string) (int64, error) {
	path, err := f.Path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return 0, err
	}
	return info.Size(), nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
