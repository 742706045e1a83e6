// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"strings"
	"time"
)

// Attachment is the metadata row for one uploaded file. (URL, Storage) is
// unique; optional values are pointers rather than absent keys.
type Attachment struct {
	ID       int64       `json:"id"`
	URL      string      `json:"url"`
	Storage  StorageKind `json:"storage"`
	Category string      `json:"category"`
	AdminID  int64       `json:"admin_id"`
	UserID   int64       `json:"user_id"`

	Filename  string `json:"filename"`
	Filesize  int64  `json:"filesize"`
	Mimetype  string `json:"mimetype"`
	ImageType string `json:"imagetype"`

	ImageWidth  *int `json:"imagewidth,omitempty"`
	ImageHeight *int `json:"imageheight,omitempty"`
	ImageFrames int  `json:"imageframes"`

	// Checksum is the client- or server-computed MD5 hex of the content.
	Checksum string `json:"checksum"`
	// RemoteURL is the public CDN URL once the object is in the bucket.
	RemoteURL *string `json:"remote_url,omitempty"`

	UploadTime time.Time `json:"uploadtime"`
	CreateTime time.Time `json:"createtime"`
	UpdateTime time.Time `json:"updatetime"`
}

// NormalizeCategory maps the front-end placeholder "unclassed" to "".
func NormalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "unclassed" {
		return ""
	}
	return category
}

// JoinURL joins a CDN base and an object path with exactly one slash.
func JoinURL(base, path string) string {
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func IntPtr(v int) *int { return &v }

func StringPtr(v string) *string { return &v }

// Deref returns the value behind p, or the zero value when p is nil.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
