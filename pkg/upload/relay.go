// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/utils"
)

var chunkIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// RelayFile is one whole file sent through the service.
type RelayFile struct {
	Filename string
	Mimetype string
	Body     io.ReadSeeker
	Category string
	AdminID  int64
	UserID   int64
}

// ChunkUpload is chunk Index (from 0) of relay upload ChunkID.
type ChunkUpload struct {
	ChunkID  string
	Index    int
	Count    int
	Key      string
	UploadID string
	Body     io.ReadSeeker
}

type ChunkResult struct {
	ETag string `json:"ETag"`
}

// MergeRequest finishes a chunked upload. ETags are in part order.
type MergeRequest struct {
	ChunkID  string
	Count    int
	Key      string
	UploadID string
	ETags    []string

	Filename string
	Filesize int64
	MD5      string
	Mimetype string
	Category string
	AdminID  int64
	UserID   int64
}

// AbortRequest abandons a multipart session.
type AbortRequest struct {
	ChunkID  string
	Key      string
	UploadID string
}

// UploadResult is the stored object's record URL and public URL.
type UploadResult struct {
	URL     string `json:"url"`
	FullURL string `json:"fullurl"`

	Attachment *types.Attachment `json:"-"`
}

// RelayUpload lands f under data_dir with a local record, copies it to the
// bucket and only then moves the record to remote storage. On failure the
// local file and the record created for it are removed.
func (c *Coordinator) RelayUpload(ctx context.Context, f RelayFile) (*UploadResult, error) {
	start := time.Now()
	res, err := c.relayUpload(ctx, f)
	observe(opRelay, err, start)
	return res, err
}

func (c *Coordinator) relayUpload(ctx context.Context, f RelayFile) (*UploadResult, error) {
	if err := c.requireRelay(opRelay); err != nil {
		return nil, err
	}
	name := CleanFilename(f.Filename)
	if name == "" || f.Body == nil {
		return nil, errs.Validation(opRelay, "file is required")
	}
	if err := CheckExtension(name, c.cfg.Mimetypes); err != nil {
		return nil, err
	}

	digest, err := utils.DigestReader(f.Body)
	if err != nil {
		return nil, errs.Internal(opRelay, "read upload", err)
	}
	if digest.Size == 0 {
		return nil, errs.Validation(opRelay, "file is empty")
	}
	if err := c.checkSize(opRelay, digest.Size); err != nil {
		return nil, err
	}
	if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
		return nil, errs.Internal(opRelay, "rewind upload", err)
	}
	width, height := imageSize(f.Body)
	if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
		return nil, errs.Internal(opRelay, "rewind upload", err)
	}

	now := c.now()
	url := objectURL(SaveKey(c.cfg.SaveKey, name, digest.MD5Hex, now))
	if _, err := c.files.Write(ctx, url, f.Body); err != nil {
		return nil, errs.Internal(opRelay, "store upload locally", err)
	}

	mimetype := f.Mimetype
	if mimetype == "" {
		mimetype = ContentType(name)
	}
	a := &types.Attachment{
		URL:         url,
		Storage:     types.StorageLocal,
		Category:    types.NormalizeCategory(f.Category),
		AdminID:     f.AdminID,
		UserID:      f.UserID,
		Filename:    name,
		Filesize:    digest.Size,
		Mimetype:    mimetype,
		ImageType:   Suffix(name),
		ImageWidth:  width,
		ImageHeight: height,
		Checksum:    digest.MD5Hex,
		UploadTime:  now,
		CreateTime:  now,
		UpdateTime:  now,
	}
	created, err := c.db.Create(ctx, a)
	if err != nil {
		c.removeLocal(ctx, url)
		return nil, errs.Internal(opRelay, "create attachment", err)
	}
	log := logger.Ctx(ctx).With().Str("url", url).Int64("id", a.ID).Logger()

	// A local row this request did not create belongs to another upload of
	// the same content, and so does the file it points at.
	cleanup := func() {
		if !created {
			return
		}
		c.removeLocal(ctx, url)
		if err := c.db.Delete(ctx, a.ID); err != nil {
			log.Warn().Err(err).Msg("failed to remove attachment after failed upload")
		}
	}

	if err := c.backends.Active().AfterUpload(ctx, a); err != nil {
		cleanup()
		log.Error().Err(err).Msg("relay upload to bucket failed")
		return nil, err
	}

	flipped, err := c.db.UpdateStorage(ctx, a.ID, types.StorageLocal, types.StorageRemote, a.RemoteURL)
	if err != nil {
		cleanup()
		return nil, errs.Internal(opRelay, "update attachment storage", err)
	}
	if flipped {
		a.Storage = types.StorageRemote
		c.events.EmitAttachmentCreated(ctx, a)
	} else {
		// The same object already has a remote record.
		existing, err := c.db.FindByURL(ctx, url, types.StorageRemote)
		if err != nil {
			cleanup()
			return nil, errs.Internal(opRelay, "load existing attachment", err)
		}
		if created && existing.ID != a.ID {
			if err := c.db.Delete(ctx, a.ID); err != nil {
				log.Warn().Err(err).Msg("failed to remove duplicate local attachment")
			}
		}
		dedupedTotal.WithLabelValues(opRelay).Inc()
		a = existing
	}

	if !c.cfg.ServerBackup && (created || flipped) {
		c.removeLocal(ctx, url)
	}
	log.Info().Int64("size", digest.Size).Bool("deduplicated", !flipped).Msg("relay upload stored")
	return &UploadResult{URL: url, FullURL: c.fullURL(url), Attachment: a}, nil
}

// RelayChunk stores one chunk locally and forwards it as part Index+1.
func (c *Coordinator) RelayChunk(ctx context.Context, u ChunkUpload) (*ChunkResult, error) {
	start := time.Now()
	res, err := c.relayChunk(ctx, u)
	observe(opChunk, err, start)
	return res, err
}

func (c *Coordinator) relayChunk(ctx context.Context, u ChunkUpload) (*ChunkResult, error) {
	if err := c.requireChunks(opChunk); err != nil {
		return nil, err
	}
	if !chunkIDPattern.MatchString(u.ChunkID) {
		return nil, errs.Validation(opChunk, "invalid chunk id")
	}
	if u.Index < 0 || (u.Count > 0 && u.Index >= u.Count) {
		return nil, errs.Validation(opChunk, "chunk index out of range")
	}
	key := objectKey(u.Key)
	if key == "" || u.UploadID == "" {
		return nil, errs.Validation(opChunk, "key and uploadId are required")
	}
	if err := CheckExtension(path.Base(key), c.cfg.Mimetypes); err != nil {
		return nil, err
	}
	if u.Body == nil {
		return nil, errs.Validation(opChunk, "chunk data is required")
	}

	chunkKey := chunkPath(u.ChunkID, u.Index)
	n, err := c.chunks.Write(ctx, chunkKey, u.Body)
	if err != nil {
		return nil, errs.Internal(opChunk, "store chunk", err)
	}
	if n == 0 {
		return nil, errs.Validation(opChunk, "chunk is empty")
	}
	f, err := c.chunks.Open(ctx, chunkKey)
	if err != nil {
		return nil, errs.Internal(opChunk, "open chunk", err)
	}
	defer f.Close()

	etag, err := c.store.UploadPart(ctx, c.store.Bucket(), key, u.UploadID, u.Index+1, f)
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Debug().
		Str("key", key).
		Str("upload_id", u.UploadID).
		Int("part", u.Index+1).
		Int64("size", n).
		Msg("chunk forwarded")
	return &ChunkResult{ETag: etag}, nil
}

// Merge completes the multipart session from the client's ETags and records
// the object. A count mismatch cleans up locally without calling the store.
func (c *Coordinator) Merge(ctx context.Context, req MergeRequest) (*UploadResult, error) {
	start := time.Now()
	res, err := c.merge(ctx, req)
	observe(opMerge, err, start)
	return res, err
}

func (c *Coordinator) merge(ctx context.Context, req MergeRequest) (*UploadResult, error) {
	key := objectKey(req.Key)
	if key == "" || req.UploadID == "" {
		return nil, errs.Validation(opMerge, "key and uploadId are required")
	}
	if req.Count <= 0 {
		return nil, errs.Validation(opMerge, "chunk count is required")
	}
	relayed := req.ChunkID != "" && c.chunks != nil
	if relayed && !chunkIDPattern.MatchString(req.ChunkID) {
		return nil, errs.Validation(opMerge, "invalid chunk id")
	}
	cleanup := func() {
		if relayed {
			if err := c.chunks.RemoveAll(ctx, req.ChunkID); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("chunk_id", req.ChunkID).Msg("failed to remove chunks")
			}
		}
	}

	if len(req.ETags) != req.Count {
		cleanup()
		return nil, errs.Validation(opMerge, "chunk data mismatch")
	}
	bucket := c.store.Bucket()
	session := &types.MultipartSession{Bucket: bucket, Key: key, UploadID: req.UploadID}
	for _, p := range types.PartsFromETags(req.ETags) {
		if err := session.AddPart(p); err != nil {
			cleanup()
			return nil, errs.Validation(opMerge, "chunk data mismatch")
		}
	}
	if err := session.ValidateComplete(req.Count); err != nil {
		cleanup()
		return nil, errs.Validation(opMerge, "chunk data mismatch")
	}

	var relayedSize int64
	if relayed {
		for i := 0; i < req.Count; i++ {
			n, err := c.chunks.Size(ctx, chunkPath(req.ChunkID, i))
			if err != nil {
				cleanup()
				return nil, errs.Validation(opMerge, "chunk data mismatch")
			}
			relayedSize += n
		}
	}

	resp, err := c.store.CompleteMultipartUpload(ctx, session.Bucket, session.Key, session.UploadID, session.Parts)
	if err != nil {
		cleanup()
		return nil, err
	}
	result, err := s3client.ParseCompleteResult(resp.Body)
	if err != nil {
		cleanup()
		return nil, err
	}
	if objectKey(result.Key) != key {
		cleanup()
		return nil, errs.RemoteProtocol(opMerge, "store did not confirm the object key", resp.StatusCode, resp.Body)
	}

	url := objectURL(key)
	if relayed && c.cfg.ServerBackup && c.files != nil {
		if err := c.assemble(ctx, req.ChunkID, req.Count, url); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("url", url).Msg("failed to keep local copy of merged upload")
		}
	}
	cleanup()

	size := req.Filesize
	if relayedSize > 0 {
		size = relayedSize
	}
	name := CleanFilename(req.Filename)
	if name == "" {
		name = path.Base(key)
	}
	mimetype := req.Mimetype
	if mimetype == "" {
		mimetype = ContentType(key)
	}
	now := c.now()
	a := &types.Attachment{
		URL:        url,
		Storage:    types.StorageRemote,
		Category:   types.NormalizeCategory(req.Category),
		AdminID:    req.AdminID,
		UserID:     req.UserID,
		Filename:   name,
		Filesize:   size,
		Mimetype:   mimetype,
		ImageType:  Suffix(key),
		Checksum:   req.MD5,
		RemoteURL:  types.StringPtr(c.fullURL(url)),
		UploadTime: now,
		CreateTime: now,
		UpdateTime: now,
	}
	created, err := c.db.Create(ctx, a)
	if err != nil {
		return nil, errs.Internal(opMerge, "create attachment", err)
	}
	if created {
		c.events.EmitAttachmentCreated(ctx, a)
	} else {
		dedupedTotal.WithLabelValues(opMerge).Inc()
	}

	logger.Ctx(ctx).Info().
		Str("key", key).
		Str("upload_id", req.UploadID).
		Int("parts", req.Count).
		Str("etag", result.ETag).
		Msg("multipart upload completed")
	return &UploadResult{URL: url, FullURL: c.fullURL(url), Attachment: a}, nil
}

// Abort abandons a multipart session and drops any relayed chunks.
func (c *Coordinator) Abort(ctx context.Context, req AbortRequest) error {
	start := time.Now()
	err := c.abort(ctx, req)
	observe(opAbort, err, start)
	return err
}

func (c *Coordinator) abort(ctx context.Context, req AbortRequest) error {
	key := objectKey(req.Key)
	if key == "" || req.UploadID == "" {
		return errs.Validation(opAbort, "key and uploadId are required")
	}
	if req.ChunkID != "" && c.chunks != nil {
		if !chunkIDPattern.MatchString(req.ChunkID) {
			return errs.Validation(opAbort, "invalid chunk id")
		}
		if err := c.chunks.RemoveAll(ctx, req.ChunkID); err != nil {
			return errs.Internal(opAbort, "remove chunks", err)
		}
	}
	_, err := c.store.AbortMultipartUpload(ctx, c.store.Bucket(), key, req.UploadID)
	return err
}

// assemble concatenates relayed chunks into the data area at url.
func (c *Coordinator) assemble(ctx context.Context, chunkID string, count int, url string) error {
	readers := make([]io.Reader, 0, count)
	for i := 0; i < count; i++ {
		f, err := c.chunks.Open(ctx, chunkPath(chunkID, i))
		if err != nil {
			return err
		}
		defer f.Close()
		readers = append(readers, f)
	}
	_, err := c.files.Write(ctx, url, io.MultiReader(readers...))
	return err
}

func (c *Coordinator) requireRelay(op string) error {
	if c.cfg.Mode != types.ModeRelay || c.files == nil {
		return errs.Validation(op, "server relay uploads are disabled in client upload mode")
	}
	return nil
}

func (c *Coordinator) requireChunks(op string) error {
	if err := c.requireRelay(op); err != nil {
		return err
	}
	if !c.cfg.Chunking || c.chunks == nil {
		return errs.Validation(op, "chunked uploads are disabled")
	}
	return nil
}

func (c *Coordinator) removeLocal(ctx context.Context, url string) {
	if err := c.files.Remove(ctx, url); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("url", url).Msg("failed to remove local file")
	}
}

func chunkPath(chunkID string, index int) string {
	return fmt.Sprintf("%s/%d.part", chunkID, index)
}
