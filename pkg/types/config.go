// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3consts"
)

const (
	DefaultSaveKey   = "/uploads/{year}{mon}{day}/{filemd5}{.suffix}"
	DefaultTokenTTL  = 10 * time.Minute
	DefaultChunkSize = 10 * 1024 * 1024
	DefaultRelayURL  = "/upload/relay"
	DefaultMimetypes = "jpg,png,bmp,jpeg,gif,webp,zip,rar,wav,mp4,mp3,webm,pdf,doc,docx,xls,xlsx,ppt,pptx,txt"
)

// StoreConfig is the bucket a deployment writes to.
type StoreConfig struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// UseCredentialChain resolves keys through the AWS default chain when the
	// static keys are empty.
	UseCredentialChain bool
	// Timeout bounds one HTTP exchange with the store.
	Timeout time.Duration
	// ChecksumCRC64NVME adds x-amz-checksum-crc64nvme to PutObject.
	ChecksumCRC64NVME bool
}

// UploadConfig is built once at startup and shared read-only afterwards.
type UploadConfig struct {
	Store StoreConfig

	Mode     UploadMode
	TokenTTL time.Duration
	SaveKey  string
	MaxSize  int64
	// Mimetypes is the allow-list: extensions ("jpg"), MIME patterns
	// ("image/*") or "*".
	Mimetypes []string
	Multiple  bool

	Chunking  bool
	ChunkSize int64

	CDNURL   string
	RelayURL string

	// ServerBackup keeps relay-mode local copies after a confirmed upload.
	ServerBackup bool
	// SyncDelete removes the object from the bucket when the record is deleted.
	SyncDelete bool

	DataDir  string
	ChunkDir string
}

// ParseMimetypes splits the comma separated allow-list from config.
func ParseMimetypes(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ConfigValidationError represents a configuration validation error
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConfigValidationResult contains the results of configuration validation
type ConfigValidationResult struct {
	Valid    bool
	Errors   []ConfigValidationError
	Warnings []string
}

// AddError adds an error to the result
func (r *ConfigValidationResult) AddError(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ConfigValidationError{Field: field, Message: message})
}

// AddWarning adds a warning to the result
func (r *ConfigValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// Err folds the errors into one ConfigurationError, or nil.
func (r *ConfigValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return errs.Configuration("config", strings.Join(msgs, "; "))
}

// Validate checks the whole configuration at once so operators see every
// problem in one run.
func (c *UploadConfig) Validate() *ConfigValidationResult {
	result := &ConfigValidationResult{Valid: true}

	s := c.Store
	if s.Endpoint == "" {
		result.AddError("endpoint", "endpoint is required")
	}
	if s.Bucket == "" {
		result.AddError("bucket", "bucket is required")
	}
	if s.Region == "" {
		result.AddError("region", "region is required (use \"auto\" for R2)")
	}
	if !s.UseCredentialChain && (s.AccessKeyID == "" || s.SecretAccessKey == "") {
		result.AddError("access_key_id", "access key id and secret access key are required unless use_credential_chain is set")
	}
	if s.Timeout < 0 {
		result.AddError("timeout", "timeout cannot be negative")
	}

	switch c.Mode {
	case ModeRelay, ModeDirect:
	default:
		result.AddError("uploadmode", "uploadmode must be server or client")
	}

	if c.TokenTTL <= 0 {
		result.AddError("expire", "token lifetime must be positive")
	} else if c.TokenTTL > time.Duration(s3consts.MaxPresignExpiry)*time.Second {
		result.AddError("expire", "token lifetime must not exceed 7 days, the pre-signed URL limit")
	}
	if strings.TrimSpace(c.SaveKey) == "" {
		result.AddError("savekey", "savekey template is required")
	} else if !strings.Contains(c.SaveKey, "{filemd5}") && !strings.Contains(c.SaveKey, "{random") {
		result.AddWarning("savekey has neither {filemd5} nor {random}; uploads may overwrite each other")
	}
	if c.MaxSize < 0 {
		result.AddError("maxsize", "maxsize cannot be negative")
	} else if !c.Chunking && c.MaxSize > s3consts.MaxObjectSize {
		result.AddWarning("maxsize exceeds the 5 GiB single PUT limit; enable chunking for larger files")
	}
	if len(c.Mimetypes) == 0 {
		result.AddError("mimetype", "at least one allowed type is required")
	}

	if c.Chunking {
		if c.ChunkSize <= 0 {
			result.AddError("chunksize", "chunksize must be positive when chunking is enabled")
		} else if c.ChunkSize < s3consts.MinPartSize {
			result.AddWarning(fmt.Sprintf("chunksize %d is below the 5 MiB minimum part size; multi-part files will be rejected", c.ChunkSize))
		}
	}

	if c.Mode == ModeRelay && c.DataDir == "" {
		result.AddError("data_dir", "data_dir is required in server upload mode")
	}
	if c.Chunking && c.Mode == ModeRelay && c.ChunkDir == "" {
		result.AddError("chunk_dir", "chunk_dir is required for chunked relay uploads")
	}
	if c.CDNURL == "" {
		result.AddWarning("cdnurl is empty; full URLs will be relative paths")
	}

	return result
}
