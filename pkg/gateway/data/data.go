// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package data

import (
	"context"
	"io"
	"net/http"

	"github.com/LeeDigitalWorks/uploadgate/pkg/token"
)

// Action is the upload endpoint a request was routed to.
type Action int

const (
	ActionUnknown Action = iota
	ActionConfig
	ActionParams
	ActionRelay
	ActionNotify
)

func (a Action) String() string {
	switch a {
	case ActionConfig:
		return "config"
	case ActionParams:
		return "params"
	case ActionRelay:
		return "relay"
	case ActionNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// RequiresToken reports whether the endpoint is guarded by the capability token.
func (a Action) RequiresToken() bool {
	return a != ActionConfig && a != ActionUnknown
}

type Data struct {
	Ctx       context.Context
	Req       *http.Request
	Action    Action
	RequestID string

	// Form holds the request fields whatever the body encoding.
	Form *Form
	// File is the uploaded file part, if the body was multipart and had one.
	File *File

	// Claims is set once the token filter accepted the request.
	Claims *token.Claims
	// Trusted marks a config request that may be issued an upload token.
	Trusted bool

	// ResponseWriter allows filters to write HTTP responses directly.
	// Set by the server before invoking the filter chain.
	ResponseWriter http.ResponseWriter
}

func NewData(ctx context.Context, req *http.Request) *Data {
	return &Data{
		Ctx:  ctx,
		Req:  req,
		Form: NewForm(),
	}
}

// File is one multipart file field.
type File struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
	closer      io.Closer
}

func NewFile(filename, contentType string, size int64, body io.ReadSeeker, closer io.Closer) *File {
	return &File{Filename: filename, ContentType: contentType, Size: size, Body: body, closer: closer}
}

func (f *File) Close() error {
	if f == nil || f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
