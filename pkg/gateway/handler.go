// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"net/http"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/upload"
)

// ConfigHandler returns the front-end upload configuration. The upload token
// is only filled in for trusted callers.
// GET /upload/config
func (s *Server) ConfigHandler(d *data.Data, w http.ResponseWriter) error {
	cfg, err := s.coord.ClientConfig(d.Ctx, d.Trusted)
	if err != nil {
		return err
	}
	writeSuccess(w, cfg)
	return nil
}

// ParamsHandler issues upload parameters.
// POST /upload/params
func (s *Server) ParamsHandler(d *data.Data, w http.ResponseWriter) error {
	size, err := d.Form.Int64("size")
	if err != nil {
		return fieldError("params", err)
	}
	chunkSize, err := d.Form.Int64("chunksize")
	if err != nil {
		return fieldError("params", err)
	}

	res, err := s.coord.Params(d.Ctx, upload.ParamsRequest{
		Name:      d.Form.String("name"),
		MD5:       d.Form.String("md5"),
		Chunk:     d.Form.Bool("chunk"),
		Size:      size,
		ChunkSize: chunkSize,
	})
	if err != nil {
		return err
	}
	writeSuccess(w, res)
	return nil
}

// RelayHandler accepts bytes relayed through the service.
// POST /upload/relay
//
// action=merge and action=abort finish a chunked upload; chunkid without an
// action carries one chunk; neither is a single-shot upload.
func (s *Server) RelayHandler(d *data.Data, w http.ResponseWriter) error {
	switch action := d.Form.String("action"); action {
	case "merge":
		return s.merge(d, w)
	case "abort":
		return s.abort(d, w)
	case "":
	default:
		return errs.Validation("relay", fmt.Sprintf("unknown action %q", action))
	}
	if d.Form.String("chunkid") != "" {
		return s.chunk(d, w)
	}
	return s.single(d, w)
}

func (s *Server) single(d *data.Data, w http.ResponseWriter) error {
	if d.File == nil {
		return errs.Validation("relay", "no file was uploaded")
	}
	mimetype := d.File.ContentType
	if mimetype == "" {
		mimetype = upload.ContentType(d.File.Filename)
	}
	res, err := s.coord.RelayUpload(d.Ctx, upload.RelayFile{
		Filename: d.File.Filename,
		Mimetype: mimetype,
		Body:     d.File.Body,
		Category: s.category(d),
	})
	if err != nil {
		return err
	}
	writeSuccess(w, res)
	return nil
}

func (s *Server) chunk(d *data.Data, w http.ResponseWriter) error {
	if d.File == nil {
		return errs.Validation("relay.chunk", "no chunk was uploaded")
	}
	index, err := d.Form.Int("chunkindex")
	if err != nil {
		return fieldError("relay.chunk", err)
	}
	count, err := d.Form.Int("chunkcount")
	if err != nil {
		return fieldError("relay.chunk", err)
	}
	res, err := s.coord.RelayChunk(d.Ctx, upload.ChunkUpload{
		ChunkID:  d.Form.String("chunkid"),
		Index:    index,
		Count:    count,
		Key:      d.Form.String("key"),
		UploadID: d.Form.String("uploadId", "uploadid"),
		Body:     d.File.Body,
	})
	if err != nil {
		return err
	}
	w.Header().Set("ETag", `"`+res.ETag+`"`)
	writeSuccess(w, res)
	return nil
}

func (s *Server) merge(d *data.Data, w http.ResponseWriter) error {
	count, err := d.Form.Int("chunkcount")
	if err != nil {
		return fieldError("relay.merge", err)
	}
	filesize, err := d.Form.Int64("filesize")
	if err != nil {
		return fieldError("relay.merge", err)
	}
	res, err := s.coord.Merge(d.Ctx, upload.MergeRequest{
		ChunkID:  d.Form.String("chunkid"),
		Count:    count,
		Key:      d.Form.String("key"),
		UploadID: d.Form.String("uploadId", "uploadid"),
		ETags:    d.Form.Strings("etags"),
		Filename: d.Form.String("filename", "name"),
		Filesize: filesize,
		MD5:      d.Form.String("md5"),
		Mimetype: d.Form.String("mimetype", "type"),
		Category: s.category(d),
	})
	if err != nil {
		return err
	}
	writeSuccess(w, res)
	return nil
}

func (s *Server) abort(d *data.Data, w http.ResponseWriter) error {
	err := s.coord.Abort(d.Ctx, upload.AbortRequest{
		ChunkID:  d.Form.String("chunkid"),
		Key:      d.Form.String("key"),
		UploadID: d.Form.String("uploadId", "uploadid"),
	})
	if err != nil {
		return err
	}
	writeSuccess(w, nil)
	return nil
}

// NotifyHandler records a file the client uploaded straight to the bucket.
// POST /upload/notify
func (s *Server) NotifyHandler(d *data.Data, w http.ResponseWriter) error {
	size, err := d.Form.Int64("size")
	if err != nil {
		return fieldError("notify", err)
	}
	width, err := d.Form.OptionalInt("width")
	if err != nil {
		return fieldError("notify", err)
	}
	height, err := d.Form.OptionalInt("height")
	if err != nil {
		return fieldError("notify", err)
	}

	a, _, err := s.coord.Notify(d.Ctx, upload.NotifyRequest{
		URL:      d.Form.String("url"),
		Name:     d.Form.String("name"),
		Size:     size,
		MD5:      d.Form.String("md5"),
		Type:     d.Form.String("type"),
		Width:    width,
		Height:   height,
		Category: s.category(d),
	})
	if err != nil {
		return err
	}
	writeSuccess(w, notifyResult{ID: a.ID, URL: a.URL, FullURL: types.Deref(a.RemoteURL)})
	return nil
}

type notifyResult struct {
	ID      int64  `json:"id"`
	URL     string `json:"url"`
	FullURL string `json:"fullurl,omitempty"`
}

// category drops values outside the configured category list.
func (s *Server) category(d *data.Data) string {
	c := types.NormalizeCategory(d.Form.String("category"))
	if c == "" || len(s.categories) == 0 {
		return c
	}
	if _, ok := s.categories[c]; !ok {
		return ""
	}
	return c
}

func fieldError(op string, err error) error {
	return errs.Validation(op, err.Error())
}
