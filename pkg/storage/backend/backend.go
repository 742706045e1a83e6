// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend holds the per-storage-kind behavior around an upload: what
// the front end is told, what happens after bytes land, and what happens
// before a record is deleted.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

// ClientConfig is the upload configuration handed to the front end.
type ClientConfig struct {
	CDNURL     string            `json:"cdnurl"`
	UploadURL  string            `json:"uploadurl"`
	UploadMode string            `json:"uploadmode"`
	Bucket     string            `json:"bucket"`
	MaxSize    string            `json:"maxsize"`
	Mimetype   string            `json:"mimetype"`
	SaveKey    string            `json:"savekey"`
	Chunking   bool              `json:"chunking"`
	ChunkSize  int64             `json:"chunksize"`
	Multiple   bool              `json:"multiple"`
	Multipart  map[string]string `json:"multipart"`
	Storage    types.StorageKind `json:"storage"`
}

// Backend is implemented once per StorageKind.
type Backend interface {
	Kind() types.StorageKind

	// PrepareUploadConfig fills the storage-specific parts of cfg.
	PrepareUploadConfig(ctx context.Context, cfg *ClientConfig) error

	// AfterUpload runs once the bytes for a are on local disk. The remote
	// backend copies them to the bucket and sets a.RemoteURL.
	AfterUpload(ctx context.Context, a *types.Attachment) error

	// BeforeDelete releases the bytes behind a before its record goes.
	BeforeDelete(ctx context.Context, a *types.Attachment) error
}

// ObjectStore is the slice of s3client.Client the remote backend needs.
type ObjectStore interface {
	Bucket() string
	Endpoint() string
	PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, contentType string) (*s3client.Response, error)
	DeleteObject(ctx context.Context, bucket, key string) (*s3client.Response, error)
}

// Deps are the collaborators backends are built from.
type Deps struct {
	Config *types.UploadConfig
	// Files is the local landing area under data_dir.
	Files *Files
	Store ObjectStore
}

// New builds the backend for kind.
func New(kind types.StorageKind, deps Deps) (Backend, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("backend %s: config is required", kind)
	}
	switch kind {
	case types.StorageLocal:
		if deps.Files == nil {
			return nil, fmt.Errorf("backend %s: local file area is required", kind)
		}
		return NewLocal(deps.Config, deps.Files), nil
	case types.StorageRemote:
		if deps.Store == nil {
			return nil, fmt.Errorf("backend %s: object store is required", kind)
		}
		return NewRemote(deps.Config, deps.Files, deps.Store), nil
	default:
		return nil, fmt.Errorf("unknown storage kind: %s", kind)
	}
}

// Set holds one backend per storage kind.
type Set struct {
	local  Backend
	remote Backend
}

// NewSet builds both backends from deps.
func NewSet(deps Deps) (*Set, error) {
	local, err := New(types.StorageLocal, deps)
	if err != nil {
		return nil, err
	}
	remote, err := New(types.StorageRemote, deps)
	if err != nil {
		return nil, err
	}
	return &Set{local: local, remote: remote}, nil
}

// For returns the backend that owns attachments of kind.
func (s *Set) For(kind types.StorageKind) (Backend, error) {
	switch kind {
	case types.StorageLocal:
		return s.local, nil
	case types.StorageRemote:
		return s.remote, nil
	default:
		return nil, fmt.Errorf("unknown storage kind: %s", kind)
	}
}

// Active is the backend new uploads end up in.
func (s *Set) Active() Backend {
	return s.remote
}
