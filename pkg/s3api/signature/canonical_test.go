// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURIEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		keepSlash bool
		want      string
	}{
		{"abcXYZ019-_.~", false, "abcXYZ019-_.~"},
		{"a b", false, "a%20b"},
		{"a+b", false, "a%2Bb"},
		{"a/b", false, "a%2Fb"},
		{"a/b", true, "a/b"},
		{"$file", true, "%24file"},
		{"€", false, "%E2%82%AC"},
		{"*", false, "%2A"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, uriEncode(tc.in, tc.keepSlash), tc.in)
	}
}

func TestEncodePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", EncodePath(""))
	assert.Equal(t, "/", EncodePath("/"))
	assert.Equal(t, "/bucket/key", EncodePath("bucket/key"))
	assert.Equal(t, "/bucket/dir/a%20%28copy%29.txt", EncodePath("/bucket/dir/a (copy).txt"))
}

func TestCanonicalQueryString(t *testing.T) {
	t.Parallel()

	q := url.Values{
		"uploadId":        {"a b"},
		"partNumber":      {"10"},
		"X-Amz-Signature": {"ignored"},
		"uploads":         {""},
		"multi":           {"b", "a"},
	}
	assert.Equal(t, "multi=a&multi=b&partNumber=10&uploadId=a%20b&uploads=", canonicalQueryString(q))
	assert.Equal(t, "", canonicalQueryString(nil))
}

func TestCanonicalHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{
		"X-Amz-Meta-Note": {"  two   spaces  "},
		"Content-Type":    {"text/plain"},
		"Authorization":   {"old"},
		"Host":            {"spoofed"},
	}
	block, names := canonicalHeaders("real.host", h)
	assert.Equal(t, []string{"content-type", "host", "x-amz-meta-note"}, names)
	assert.Equal(t, "content-type:text/plain\nhost:real.host\nx-amz-meta-note:two spaces\n", block)
}
