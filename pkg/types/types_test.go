// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageKindRoundTrip(t *testing.T) {
	t.Parallel()

	for _, k := range []StorageKind{StorageLocal, StorageRemote} {
		b, err := json.Marshal(k)
		require.NoError(t, err)
		var back StorageKind
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, k, back)
	}

	legacy, err := ParseStorageKind("r2")
	require.NoError(t, err)
	assert.Equal(t, StorageRemote, legacy)

	_, err = ParseStorageKind("ftp")
	assert.Error(t, err)

	_, err = json.Marshal(StorageKind(0))
	assert.Error(t, err)
}

func TestParseUploadMode(t *testing.T) {
	t.Parallel()

	m, err := ParseUploadMode("server")
	require.NoError(t, err)
	assert.Equal(t, ModeRelay, m)
	m, err = ParseUploadMode("client")
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, m)
	_, err = ParseUploadMode("hybrid")
	assert.Error(t, err)
}

func TestMultipartSession_AddPart(t *testing.T) {
	t.Parallel()

	s := &MultipartSession{Bucket: "b", Key: "k", UploadID: "u"}
	require.NoError(t, s.AddPart(Part{PartNumber: 1, ETag: `"e1"`}))
	require.NoError(t, s.AddPart(Part{PartNumber: 2, ETag: "e2"}))
	assert.Error(t, s.AddPart(Part{PartNumber: 2, ETag: "dup"}))
	assert.Error(t, s.AddPart(Part{PartNumber: 1, ETag: "back"}))

	want := []Part{{1, "e1"}, {2, "e2"}}
	if diff := cmp.Diff(want, s.Parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
	assert.NoError(t, s.ValidateComplete(2))
	assert.Error(t, s.ValidateComplete(3))
}

func TestValidateParts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		parts    []Part
		expected int
		ok       bool
	}{
		{"complete", []Part{{1, "a"}, {2, "b"}, {3, "c"}}, 3, true},
		{"missing middle", []Part{{1, "a"}, {3, "c"}}, 3, false},
		{"gap with right length", []Part{{1, "a"}, {3, "c"}}, 2, false},
		{"empty etag", []Part{{1, "a"}, {2, `""`}}, 2, false},
		{"out of order", []Part{{2, "b"}, {1, "a"}}, 2, false},
		{"too many", []Part{{1, "a"}, {2, "b"}}, 1, false},
		{"zero expected", nil, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateParts(tc.parts, tc.expected)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestPartsFromETags(t *testing.T) {
	t.Parallel()

	got := PartsFromETags([]string{`"x"`, " y "})
	want := []Part{{PartNumber: 1, ETag: "x"}, {PartNumber: 2, ETag: "y"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://cdn.example.com/uploads/a.png", JoinURL("https://cdn.example.com/", "/uploads/a.png"))
	assert.Equal(t, "https://cdn.example.com/uploads/a.png", JoinURL("https://cdn.example.com", "uploads/a.png"))
	assert.Equal(t, "/uploads/a.png", JoinURL("", "/uploads/a.png"))
}

func TestNormalizeCategory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", NormalizeCategory("unclassed"))
	assert.Equal(t, "avatar", NormalizeCategory(" avatar "))
}

func validConfig() *UploadConfig {
	return &UploadConfig{
		Store: StoreConfig{
			Endpoint:        "https://acct.r2.cloudflarestorage.com",
			Bucket:          "media",
			Region:          "auto",
			AccessKeyID:     "AKID",
			SecretAccessKey: "secret",
		},
		Mode:      ModeDirect,
		TokenTTL:  DefaultTokenTTL,
		SaveKey:   DefaultSaveKey,
		MaxSize:   10 << 20,
		Mimetypes: ParseMimetypes(DefaultMimetypes),
		Chunking:  true,
		ChunkSize: DefaultChunkSize,
		CDNURL:    "https://cdn.example.com",
	}
}

func TestUploadConfigValidate(t *testing.T) {
	t.Parallel()

	res := validConfig().Validate()
	assert.True(t, res.Valid, "%v", res.Errors)
	assert.NoError(t, res.Err())

	bad := validConfig()
	bad.Store.Bucket = ""
	bad.Mode = 0
	bad.TokenTTL = 8 * 24 * time.Hour
	bad.Mimetypes = nil
	res = bad.Validate()
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 4)
	assert.True(t, errs.IsKind(res.Err(), errs.KindConfiguration))

	relay := validConfig()
	relay.Mode = ModeRelay
	res = relay.Validate()
	assert.False(t, res.Valid)
	assert.Equal(t, "data_dir", res.Errors[0].Field)

	chain := validConfig()
	chain.Store.AccessKeyID = ""
	chain.Store.UseCredentialChain = true
	assert.True(t, chain.Validate().Valid)

	small := validConfig()
	small.ChunkSize = 1 << 20
	res = small.Validate()
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Warnings)
}

func TestParseMimetypes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"jpg", "image/*", "png"}, ParseMimetypes(" JPG, image/*,,png "))
}
