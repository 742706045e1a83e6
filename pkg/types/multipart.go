// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"strings"
)

// Part is one uploaded part of a multipart session.
type Part struct {
	PartNumber int    `json:"PartNumber" xml:"PartNumber"`
	ETag       string `json:"ETag" xml:"ETag"`
}

// MultipartSession tracks a store-side multipart upload. It lives from
// initiate until complete or abort; the store owns the authoritative state.
type MultipartSession struct {
	Bucket   string
	Key      string
	UploadID string
	Parts    []Part
}

// AddPart appends p. Part numbers start at 1 and strictly increase.
func (s *MultipartSession) AddPart(p Part) error {
	next := 1
	if n := len(s.Parts); n > 0 {
		next = s.Parts[n-1].PartNumber + 1
	}
	if p.PartNumber < next {
		return fmt.Errorf("part %d out of order, expected at least %d", p.PartNumber, next)
	}
	p.ETag = TrimETag(p.ETag)
	s.Parts = append(s.Parts, p)
	return nil
}

// ValidateComplete checks that exactly parts 1..expected are present with
// non-empty ETags, in ascending order.
func (s *MultipartSession) ValidateComplete(expected int) error {
	return ValidateParts(s.Parts, expected)
}

// ValidateParts is ValidateComplete for a bare slice.
func ValidateParts(parts []Part, expected int) error {
	if expected <= 0 {
		return fmt.Errorf("expected part count must be positive, got %d", expected)
	}
	if len(parts) != expected {
		return fmt.Errorf("have %d parts, expected %d", len(parts), expected)
	}
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return fmt.Errorf("part at position %d has number %d", i+1, p.PartNumber)
		}
		if TrimETag(p.ETag) == "" {
			return fmt.Errorf("part %d has an empty ETag", p.PartNumber)
		}
	}
	return nil
}

// PartsFromETags numbers etags 1..N in the order given.
func PartsFromETags(etags []string) []Part {
	parts := make([]Part, len(etags))
	for i, etag := range etags {
		parts[i] = Part{PartNumber: i + 1, ETag: TrimETag(etag)}
	}
	return parts
}

// TrimETag strips surrounding whitespace and double quotes.
func TrimETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}
