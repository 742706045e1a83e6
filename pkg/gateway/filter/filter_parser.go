// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/data"
)

const (
	FilterTypeParser = "ParserFilter"

	// FileField is the multipart field carrying relayed bytes.
	FileField = "file"

	defaultMaxMemory = 32 << 20
	// formOverhead is allowed on top of the upload size limit for the other
	// multipart fields and boundaries.
	formOverhead = 1 << 20
)

// ParserFilter decodes JSON, urlencoded and multipart bodies into d.Form and
// exposes the multipart file part as d.File.
type ParserFilter struct {
	maxBody   int64
	maxMemory int64
}

// NewParserFilter limits bodies to maxUpload plus form overhead; maxUpload
// <= 0 leaves bodies unbounded.
func NewParserFilter(maxUpload int64) *ParserFilter {
	f := &ParserFilter{maxMemory: defaultMaxMemory}
	if maxUpload > 0 {
		f.maxBody = maxUpload + formOverhead
	}
	return f
}

func (f *ParserFilter) Type() string {
	return FilterTypeParser
}

func (f *ParserFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}
	r := d.Req
	if r.Method != http.MethodPost {
		d.Form = data.FormFromValues(r.URL.Query())
		return Next{}, nil
	}
	if f.maxBody > 0 {
		r.Body = http.MaxBytesReader(d.ResponseWriter, r.Body, f.maxBody)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return End{}, bodyError(err)
		}
		form, err := data.FormFromJSON(body)
		if err != nil {
			return End{}, errs.Validation("parse", fmt.Sprintf("malformed JSON body: %v", err))
		}
		form.Fill(r.URL.Query())
		d.Form = form
	case "multipart/form-data":
		if err := r.ParseMultipartForm(f.maxMemory); err != nil {
			return End{}, bodyError(err)
		}
		values := r.URL.Query()
		for k, vals := range r.MultipartForm.Value {
			values[k] = append(values[k], vals...)
		}
		d.Form = data.FormFromValues(values)
		if fhs := r.MultipartForm.File[FileField]; len(fhs) > 0 {
			fh := fhs[0]
			file, err := fh.Open()
			if err != nil {
				return End{}, errs.Internal("parse", "could not open uploaded file", err)
			}
			d.File = data.NewFile(fh.Filename, fh.Header.Get("Content-Type"), fh.Size, file, file)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return End{}, bodyError(err)
		}
		d.Form = data.FormFromValues(r.Form)
	}
	return Next{}, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return ErrBodyTooLarge
	}
	return errs.Validation("parse", fmt.Sprintf("malformed request body: %v", err))
}
