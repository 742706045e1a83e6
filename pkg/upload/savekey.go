// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"crypto/rand"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	alnum           = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	maxFilenameRune = 100
)

var suffixPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// deniedSuffixes are never accepted, whatever the allow-list says.
var deniedSuffixes = map[string]struct{}{
	"html": {}, "htm": {}, "phar": {}, "phtml": {},
	"exe": {}, "sh": {}, "bat": {}, "cmd": {}, "com": {}, "cgi": {},
	"pl": {}, "py": {}, "jsp": {}, "asp": {}, "aspx": {},
}

// CleanFilename reduces a client-supplied name to a base name in NFC form
// without control characters.
func CleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return norm.NFC.String(name)
}

// Suffix is the lower-cased extension of name, or "file" when it is missing
// or not purely alphanumeric.
func Suffix(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if !suffixPattern.MatchString(ext) {
		return "file"
	}
	return ext
}

// CheckExtension rejects names whose extension is executable on a web server
// or missing from allowed.
func CheckExtension(name string, allowed []string) error {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if _, denied := deniedSuffixes[ext]; denied || strings.HasPrefix(ext, "php") {
		return errs.Validation("check_extension", "file type not allowed")
	}
	mimeType := ""
	if ext != "" {
		mimeType, _, _ = mime.ParseMediaType(mime.TypeByExtension("." + ext))
	}
	for _, a := range allowed {
		switch {
		case a == "*":
			return nil
		case ext == "":
		case a == ext:
			return nil
		case mimeType == "":
		case a == mimeType:
			return nil
		case strings.HasSuffix(a, "/*") && strings.HasPrefix(mimeType, strings.TrimSuffix(a, "*")):
			return nil
		}
	}
	return errs.Validation("check_extension", "file type not allowed")
}

// ContentType guesses a MIME type from the extension of name.
func ContentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// SaveKey expands template for one file. fileMD5 may be empty, in which case
// a random identifier stands in for {filemd5}.
func SaveKey(template, filename, fileMD5 string, now time.Time) string {
	filename = CleanFilename(filename)
	suffix := Suffix(filename)
	dotSuffix := ""
	if suffix != "" {
		dotSuffix = "." + suffix
	}
	base := strings.TrimSuffix(filename, path.Ext(filename))
	if r := []rune(base); len(r) > maxFilenameRune {
		base = string(r[:maxFilenameRune])
	}
	if fileMD5 == "" {
		fileMD5 = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	replacer := strings.NewReplacer(
		"{year}", now.Format("2006"),
		"{mon}", now.Format("01"),
		"{day}", now.Format("02"),
		"{hour}", now.Format("15"),
		"{min}", now.Format("04"),
		"{sec}", now.Format("05"),
		"{random}", randomAlnum(16),
		"{random32}", randomAlnum(32),
		"{filename}", base,
		"{suffix}", suffix,
		"{.suffix}", dotSuffix,
		"{filemd5}", strings.ToLower(fileMD5),
	)
	return replacer.Replace(template)
}

func randomAlnum(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = alnum[int(b)%len(alnum)]
	}
	return string(buf)
}
