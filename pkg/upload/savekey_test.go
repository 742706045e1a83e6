// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"regexp"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"

	"github.com/stretchr/testify/assert"
)

func TestSaveKey(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		template, name, md5, want string
	}{
		{"/uploads/{year}{mon}{day}/{filemd5}{.suffix}", "photo.JPG", "ABC123", "/uploads/20250102/abc123.jpg"},
		{"{hour}{min}{sec}/{filename}.{suffix}", "report.final.pdf", "x", "030405/report.final.pdf"},
		{"{filemd5}{.suffix}", "Makefile", "m", "m.file"},
		{"{filename}", "../../etc/passwd", "m", "passwd"},
		{"{filemd5}{.suffix}", "weird.t@r", "m", "m.file"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SaveKey(tc.template, tc.name, tc.md5, now), tc.template)
	}

	key := SaveKey("{random}-{random32}", "a.jpg", "", now)
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9]{16}-[A-Za-z0-9]{32}$`), key)

	// Without an md5 the key still gets a unique component.
	a := SaveKey("{filemd5}", "a.jpg", "", now)
	b := SaveKey("{filemd5}", "a.jpg", "", now)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestCleanFilename(t *testing.T) {
	assert.Equal(t, "a.txt", CleanFilename(`C:\Users\me\a.txt`))
	assert.Equal(t, "ab.txt", CleanFilename("a\x00b.txt"))
	// Decomposed e + combining acute becomes the single precomposed rune.
	assert.Equal(t, "caf\u00e9.jpg", CleanFilename("cafe\u0301.jpg"))
	assert.Equal(t, "", CleanFilename("  "))
}

func TestCheckExtension(t *testing.T) {
	allowed := []string{"jpg", "image/*", "application/pdf"}
	for _, ok := range []string{"a.jpg", "a.PNG", "a.gif", "doc.pdf"} {
		assert.NoError(t, CheckExtension(ok, allowed), ok)
	}
	for _, bad := range []string{"a.php", "a.PHP7", "a.phtml", "a.html", "a.exe", "a.sh", "a.zip", "noext"} {
		err := CheckExtension(bad, allowed)
		assert.True(t, errs.IsKind(err, errs.KindValidation), bad)
	}

	assert.NoError(t, CheckExtension("anything.zip", []string{"*"}))
	assert.Error(t, CheckExtension("still.php", []string{"*"}), "deny-list wins over a wildcard")
}

func TestSuffix(t *testing.T) {
	assert.Equal(t, "jpg", Suffix("a.JPG"))
	assert.Equal(t, "file", Suffix("a"))
	assert.Equal(t, "file", Suffix("a.j-g"))
}
