// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3consts"
)

const upperhex = "0123456789ABCDEF"

// uriEncode applies the RFC 3986 encoding SigV4 requires: only A-Z a-z 0-9
// '-' '_' '.' '~' pass through, everything else becomes %XX with uppercase
// hex. When keepSlash is set '/' also passes through.
func uriEncode(s string, keepSlash bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && keepSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
		}
	}
	return b.String()
}

// EncodePath returns the canonical URI for an unescaped object path. The same
// string is used on the wire so the store sees exactly what was signed.
func EncodePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return uriEncode(path, true)
}

// canonicalQueryString sorts by encoded name then encoded value.
// X-Amz-Signature never takes part in its own computation.
func canonicalQueryString(query url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(query))
	for k, vals := range query {
		if k == s3consts.XAmzSignature {
			continue
		}
		ek := uriEncode(k, false)
		if len(vals) == 0 {
			pairs = append(pairs, pair{ek, ""})
			continue
		}
		for _, v := range vals {
			pairs = append(pairs, pair{ek, uriEncode(v, false)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(p.v)
	}
	return b.String()
}

// canonicalHeaders lower-cases names, collapses whitespace runs in values and
// sorts by name. host is always included. The returned block ends with '\n'.
func canonicalHeaders(host string, header http.Header) (string, []string) {
	headers := make(map[string][]string, len(header)+1)
	for name, vals := range header {
		lname := strings.ToLower(strings.TrimSpace(name))
		if lname == s3consts.Host || lname == "authorization" {
			continue
		}
		headers[lname] = append(headers[lname], vals...)
	}
	headers[s3consts.Host] = []string{host}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		vals := headers[name]
		trimmed := make([]string, len(vals))
		for i, v := range vals {
			trimmed[i] = strings.Join(strings.Fields(v), " ")
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(trimmed, ","))
		b.WriteByte('\n')
	}
	return b.String(), names
}
