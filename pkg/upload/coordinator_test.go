// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db/memory"
	"github.com/LeeDigitalWorks/uploadgate/pkg/errs"
	"github.com/LeeDigitalWorks/uploadgate/pkg/events"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client/s3test"
	"github.com/LeeDigitalWorks/uploadgate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/uploadgate/pkg/token"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/upload"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// recordingStore remembers the part list of every Complete call.
type recordingStore struct {
	*s3client.Client

	mu        sync.Mutex
	completed [][]types.Part
}

func (r *recordingStore) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.Part) (*s3client.Response, error) {
	r.mu.Lock()
	r.completed = append(r.completed, append([]types.Part(nil), parts...))
	r.mu.Unlock()
	return r.Client.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts)
}

// eventRecorder collects published attachment events.
type eventRecorder struct {
	mu   sync.Mutex
	seen []events.EventType
}

func (r *eventRecorder) Name() string { return "recorder" }
func (r *eventRecorder) Close() error { return nil }

func (r *eventRecorder) Publish(_ context.Context, _ string, data []byte) error {
	ev, err := events.ParseEvent(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.seen = append(r.seen, ev.Name)
	r.mu.Unlock()
	return nil
}

type harness struct {
	coord   *upload.Coordinator
	emitter *events.Emitter
	events  *eventRecorder
	cfg    *types.UploadConfig
	srv    *s3test.Server
	store  *recordingStore
	db     *memory.DB
	files  *backend.Files
	chunks *backend.Files
}

func newHarness(t *testing.T, mode types.UploadMode, mutate ...func(*types.UploadConfig)) *harness {
	t.Helper()
	srv := s3test.New(t)
	client, err := s3client.New(s3client.Config{Credentials: srv.Credentials()})
	require.NoError(t, err)
	store := &recordingStore{Client: client}

	cfg := &types.UploadConfig{
		Store:     srv.StoreConfig(),
		Mode:      mode,
		TokenTTL:  10 * time.Minute,
		SaveKey:   types.DefaultSaveKey,
		MaxSize:   100 << 20,
		Mimetypes: []string{"jpg", "png", "txt", "bin"},
		Chunking:  true,
		ChunkSize: 10 << 20,
		CDNURL:    "https://cdn.example.com",
		RelayURL:  types.DefaultRelayURL,
	}
	for _, m := range mutate {
		m(cfg)
	}

	files, err := backend.NewFiles(t.TempDir())
	require.NoError(t, err)
	chunks, err := backend.NewFiles(t.TempDir())
	require.NoError(t, err)

	guard, err := token.NewGuard(s3test.AccessKeyID, s3test.SecretAccessKey, token.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	set, err := backend.NewSet(backend.Deps{Config: cfg, Files: files, Store: store})
	require.NoError(t, err)

	mem := memory.New()
	rec := &eventRecorder{}
	emitter := events.NewEmitter(events.EmitterConfig{Publishers: []events.Publisher{rec}, Bucket: cfg.Store.Bucket})
	t.Cleanup(func() { emitter.Close(context.Background()) })
	coord, err := upload.New(upload.Config{
		Upload:   cfg,
		Store:    store,
		Guard:    guard,
		Backends: set,
		DB:       mem,
		Files:    files,
		Chunks:   chunks,
		Events:   emitter,
		Clock:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return &harness{coord: coord, emitter: emitter, events: rec, cfg: cfg, srv: srv, store: store, db: mem, files: files, chunks: chunks}
}

func put(t *testing.T, url string, body []byte) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return types.TrimETag(resp.Header.Get("ETag"))
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestScenarioA_DirectSingleShot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeDirect)

	params, err := h.coord.Params(ctx, upload.ParamsRequest{Name: "photo.jpg", MD5: "abc123"})
	require.NoError(t, err)
	assert.Equal(t, s3test.AccessKeyID, params.ID)
	assert.Equal(t, "uploads/20250314/abc123.jpg", params.Key)
	assert.Equal(t, fixedNow.Add(10*time.Minute).Unix(), params.Expire)
	assert.Empty(t, params.UploadID)

	put(t, params.URL, []byte("jpeg-bytes"))
	stored, ok := h.srv.Object(params.Key)
	require.True(t, ok)
	assert.Equal(t, "jpeg-bytes", string(stored))

	a, created, err := h.coord.Notify(ctx, upload.NotifyRequest{
		URL: "/" + params.Key, Name: "photo.jpg", Size: 10, MD5: "abc123", Type: "image/jpeg",
		Width: types.IntPtr(640), Height: types.IntPtr(480),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.StorageRemote, a.Storage)
	assert.Equal(t, "/uploads/20250314/abc123.jpg", a.URL)
	assert.Equal(t, "jpg", a.ImageType)
	assert.Equal(t, "abc123", a.Checksum)
	require.NotNil(t, a.RemoteURL)
	assert.Equal(t, "https://cdn.example.com/uploads/20250314/abc123.jpg", *a.RemoteURL)

	again, created, err := h.coord.Notify(ctx, upload.NotifyRequest{URL: params.Key, Name: "photo.jpg"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, 1, h.db.Len())
}

func TestScenarioB_DirectChunked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeDirect)

	params, err := h.coord.Params(ctx, upload.ParamsRequest{
		Name: "video.bin", MD5: "feedface", Chunk: true, Size: 30 << 20, ChunkSize: 10 << 20,
	})
	require.NoError(t, err)
	require.NotEmpty(t, params.UploadID)
	require.Len(t, params.PartURLs, 3)
	assert.Equal(t, []upload.PartRef{{PartNumber: 1}, {PartNumber: 2}, {PartNumber: 3}}, params.Parts)

	bodies := [][]byte{[]byte("part-one"), []byte("part-two"), []byte("part-three")}
	etags := make([]string, len(bodies))
	for i, b := range bodies {
		etags[i] = put(t, params.PartURLs[i], b)
	}
	assert.Len(t, map[string]bool{etags[0]: true, etags[1]: true, etags[2]: true}, 3)

	res, err := h.coord.Merge(ctx, upload.MergeRequest{
		Count: 3, Key: params.Key, UploadID: params.UploadID, ETags: etags, Filename: "video.bin", Filesize: 30 << 20,
	})
	require.NoError(t, err)

	want := []types.Part{{PartNumber: 1, ETag: etags[0]}, {PartNumber: 2, ETag: etags[1]}, {PartNumber: 3, ETag: etags[2]}}
	require.Len(t, h.store.completed, 1)
	if diff := cmp.Diff(want, h.store.completed[0]); diff != "" {
		t.Errorf("completed parts mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "/"+params.Key, res.URL)
	assert.Equal(t, "https://cdn.example.com/"+params.Key, res.FullURL)
	assert.Equal(t, "/"+params.Key, res.Attachment.URL)
	assert.Equal(t, types.StorageRemote, res.Attachment.Storage)

	stored, ok := h.srv.Object(params.Key)
	require.True(t, ok)
	assert.Equal(t, "part-onepart-twopart-three", string(stored))
	assert.Empty(t, h.srv.OpenUploads())

	// The follow-up notify from the front end finds the merged record.
	_, created, err := h.coord.Notify(ctx, upload.NotifyRequest{URL: res.URL, Name: "video.bin"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, h.db.Len())
}

func TestScenarioC_RejectedBeforeStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeDirect, func(c *types.UploadConfig) {
		c.Mimetypes = []string{"jpg", "png"}
	})

	_, err := h.coord.Params(ctx, upload.ParamsRequest{Name: "payload.php", MD5: "abc", Chunk: true, Size: 1 << 20})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	assert.Empty(t, h.srv.Calls())
}

func TestParams_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeDirect, func(c *types.UploadConfig) { c.MaxSize = 50 << 20 })

	tests := []struct {
		name string
		req  upload.ParamsRequest
	}{
		{"no name", upload.ParamsRequest{}},
		{"not allowed", upload.ParamsRequest{Name: "a.gif"}},
		{"too large", upload.ParamsRequest{Name: "a.jpg", Size: 51 << 20}},
		{"chunk without size", upload.ParamsRequest{Name: "a.jpg", Chunk: true}},
		{"parts too small", upload.ParamsRequest{Name: "a.jpg", Chunk: true, Size: 3 << 20, ChunkSize: 1 << 20}},
		{"too many parts", upload.ParamsRequest{Name: "a.jpg", Chunk: true, Size: 40 << 20, ChunkSize: 1 << 10}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.coord.Params(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.KindValidation), err)
		})
	}
	assert.Empty(t, h.srv.Calls())
}

func TestParams_SinglePartBelowMinimum(t *testing.T) {
	h := newHarness(t, types.ModeDirect)
	params, err := h.coord.Params(context.Background(), upload.ParamsRequest{Name: "a.jpg", Chunk: true, Size: 1024, ChunkSize: 1 << 20})
	require.NoError(t, err)
	assert.Len(t, params.PartURLs, 1)
	assert.Equal(t, 1, h.srv.CallCount(s3test.OpInitiate))
}

func TestRelayUpload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay)
	body := []byte("hello relay")

	res, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "notes.txt", Body: bytes.NewReader(body), Category: "unclassed", UserID: 7})
	require.NoError(t, err)

	wantURL := "/uploads/20250314/" + md5hex(body) + ".txt"
	assert.Equal(t, wantURL, res.URL)
	assert.Equal(t, "https://cdn.example.com"+wantURL, res.FullURL)

	a := res.Attachment
	assert.Equal(t, types.StorageRemote, a.Storage)
	assert.Equal(t, "", a.Category)
	assert.EqualValues(t, 7, a.UserID)
	assert.EqualValues(t, len(body), a.Filesize)
	assert.Equal(t, md5hex(body), a.Checksum)
	assert.Nil(t, a.ImageWidth)

	stored, ok := h.srv.Object(wantURL)
	require.True(t, ok)
	assert.Equal(t, body, stored)

	got, err := h.db.FindByURL(ctx, wantURL, types.StorageRemote)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, 1, h.db.Len())

	exists, err := h.files.Exists(ctx, wantURL)
	require.NoError(t, err)
	assert.False(t, exists, "local copy is removed without server backup")
}

func TestRelayUpload_SameContentTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay)
	body := []byte("duplicate")

	first, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "a.txt", Body: bytes.NewReader(body)})
	require.NoError(t, err)
	second, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "b.txt", Body: bytes.NewReader(body)})
	require.NoError(t, err)

	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, first.Attachment.ID, second.Attachment.ID)
	assert.Equal(t, 1, h.db.Len())
}

func TestRelayUpload_ServerBackupKeepsLocalCopy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay, func(c *types.UploadConfig) { c.ServerBackup = true })

	res, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "keep.txt", Body: strings.NewReader("keep me")})
	require.NoError(t, err)
	exists, err := h.files.Exists(ctx, res.URL)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, types.StorageRemote, res.Attachment.Storage)
}

func TestRelayUpload_StoreFailureCleansUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay, func(c *types.UploadConfig) { c.ServerBackup = true })
	h.srv.Fail(s3test.OpPutObject, http.StatusInternalServerError)
	body := []byte("doomed")

	_, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "doomed.txt", Body: bytes.NewReader(body)})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRemoteProtocol))

	assert.Zero(t, h.db.Len())
	exists, err := h.files.Exists(ctx, "/uploads/20250314/"+md5hex(body)+".txt")
	require.NoError(t, err)
	assert.False(t, exists, "failed uploads never keep a local copy")
}

// seedInFlight leaves a local record and file for body, as another relay of
// the same content would while it is still uploading.
func seedInFlight(t *testing.T, h *harness, body []byte) *types.Attachment {
	t.Helper()
	ctx := context.Background()
	url := "/uploads/20250314/" + md5hex(body) + ".txt"
	_, err := h.files.Write(ctx, url, bytes.NewReader(body))
	require.NoError(t, err)
	local := &types.Attachment{URL: url, Storage: types.StorageLocal, Filename: "other.txt", Checksum: md5hex(body)}
	created, err := h.db.Create(ctx, local)
	require.NoError(t, err)
	require.True(t, created)
	return local
}

func TestRelayUpload_DedupKeepsForeignLocalFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay)
	body := []byte("shared content")

	local := seedInFlight(t, h, body)
	remote := &types.Attachment{URL: local.URL, Storage: types.StorageRemote, Filename: "first.txt", Checksum: local.Checksum}
	_, err := h.db.Create(ctx, remote)
	require.NoError(t, err)

	res, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "mine.txt", Body: bytes.NewReader(body)})
	require.NoError(t, err)
	assert.Equal(t, remote.ID, res.Attachment.ID)

	got, err := h.db.FindByURL(ctx, local.URL, types.StorageLocal)
	require.NoError(t, err)
	assert.Equal(t, local.ID, got.ID)
	exists, err := h.files.Exists(ctx, local.URL)
	require.NoError(t, err)
	assert.True(t, exists, "the file still backs the other request's local record")
}

func TestRelayUpload_FailureKeepsForeignLocalFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay)
	h.srv.Fail(s3test.OpPutObject, http.StatusInternalServerError)
	body := []byte("shared content")

	local := seedInFlight(t, h, body)

	_, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "mine.txt", Body: bytes.NewReader(body)})
	require.Error(t, err)

	got, err := h.db.FindByURL(ctx, local.URL, types.StorageLocal)
	require.NoError(t, err)
	assert.Equal(t, local.ID, got.ID)
	exists, err := h.files.Exists(ctx, local.URL)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRelayUpload_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay, func(c *types.UploadConfig) { c.MaxSize = 4 })

	_, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "shell.php5", Body: strings.NewReader("x")})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	_, err = h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "big.txt", Body: strings.NewReader("too big")})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	_, err = h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "empty.txt", Body: strings.NewReader("")})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	assert.Empty(t, h.srv.Calls())

	direct := newHarness(t, types.ModeDirect)
	_, err = direct.coord.RelayUpload(ctx, upload.RelayFile{Filename: "a.txt", Body: strings.NewReader("a")})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestRelayChunkedUpload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay)

	params, err := h.coord.Params(ctx, upload.ParamsRequest{Name: "big.bin", MD5: "0011", Chunk: true, Size: 20 << 20})
	require.NoError(t, err)
	require.Len(t, params.Parts, 2)

	chunks := []string{"first-chunk|", "second-chunk"}
	etags := make([]string, len(chunks))
	for i, c := range chunks {
		res, err := h.coord.RelayChunk(ctx, upload.ChunkUpload{
			ChunkID: "abc-123", Index: i, Count: 2, Key: params.Key, UploadID: params.UploadID, Body: strings.NewReader(c),
		})
		require.NoError(t, err)
		etags[i] = res.ETag
	}
	assert.Equal(t, []int{1, 2}, h.srv.UploadedParts(params.UploadID))

	// Re-sending a chunk replaces it.
	res, err := h.coord.RelayChunk(ctx, upload.ChunkUpload{
		ChunkID: "abc-123", Index: 1, Count: 2, Key: params.Key, UploadID: params.UploadID, Body: strings.NewReader("second-chunk"),
	})
	require.NoError(t, err)
	assert.Equal(t, etags[1], res.ETag)

	merged, err := h.coord.Merge(ctx, upload.MergeRequest{
		ChunkID: "abc-123", Count: 2, Key: params.Key, UploadID: params.UploadID, ETags: etags, Filename: "big.bin",
	})
	require.NoError(t, err)
	assert.Equal(t, "/"+params.Key, merged.URL)
	assert.EqualValues(t, len(chunks[0])+len(chunks[1]), merged.Attachment.Filesize)

	stored, ok := h.srv.Object(params.Key)
	require.True(t, ok)
	assert.Equal(t, "first-chunk|second-chunk", string(stored))

	exists, err := h.chunks.Exists(ctx, "abc-123/0.part")
	require.NoError(t, err)
	assert.False(t, exists, "chunks are removed after merge")
}

func TestMerge_ChunkDataMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay)

	params, err := h.coord.Params(ctx, upload.ParamsRequest{Name: "big.bin", Chunk: true, Size: 20 << 20})
	require.NoError(t, err)
	res, err := h.coord.RelayChunk(ctx, upload.ChunkUpload{
		ChunkID: "c1", Index: 0, Count: 2, Key: params.Key, UploadID: params.UploadID, Body: strings.NewReader("only"),
	})
	require.NoError(t, err)

	_, err = h.coord.Merge(ctx, upload.MergeRequest{
		ChunkID: "c1", Count: 2, Key: params.Key, UploadID: params.UploadID, ETags: []string{res.ETag},
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	assert.Equal(t, "chunk data mismatch", errs.Message(err))
	assert.Zero(t, h.srv.CallCount(s3test.OpComplete))
	assert.Empty(t, h.store.completed)

	exists, err := h.chunks.Exists(ctx, "c1/0.part")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, h.db.Len())
}

func TestMerge_StoreRejects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeDirect)

	params, err := h.coord.Params(ctx, upload.ParamsRequest{Name: "a.bin", Chunk: true, Size: 1024})
	require.NoError(t, err)
	etag := put(t, params.PartURLs[0], []byte("data"))

	h.srv.CompleteWithErrorBody()
	_, err = h.coord.Merge(ctx, upload.MergeRequest{Count: 1, Key: params.Key, UploadID: params.UploadID, ETags: []string{etag}})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRemoteProtocol))
	assert.Zero(t, h.db.Len())
}

func TestRelayChunk_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay)

	bad := []upload.ChunkUpload{
		{ChunkID: "../etc", Key: "k.bin", UploadID: "u", Body: strings.NewReader("x")},
		{ChunkID: "ok", Index: 2, Count: 2, Key: "k.bin", UploadID: "u", Body: strings.NewReader("x")},
		{ChunkID: "ok", Key: "", UploadID: "u", Body: strings.NewReader("x")},
		{ChunkID: "ok", Key: "k.php", UploadID: "u", Body: strings.NewReader("x")},
	}
	for _, u := range bad {
		_, err := h.coord.RelayChunk(ctx, u)
		assert.True(t, errs.IsKind(err, errs.KindValidation), err)
	}
	assert.Empty(t, h.srv.Calls())
}

func TestAbort(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay)

	params, err := h.coord.Params(ctx, upload.ParamsRequest{Name: "a.bin", Chunk: true, Size: 1024})
	require.NoError(t, err)
	_, err = h.coord.RelayChunk(ctx, upload.ChunkUpload{ChunkID: "ab", Key: params.Key, UploadID: params.UploadID, Body: strings.NewReader("x")})
	require.NoError(t, err)

	require.NoError(t, h.coord.Abort(ctx, upload.AbortRequest{ChunkID: "ab", Key: params.Key, UploadID: params.UploadID}))
	assert.Empty(t, h.srv.OpenUploads())
	exists, err := h.chunks.Exists(ctx, "ab/0.part")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNotify_RelayModeRejected(t *testing.T) {
	h := newHarness(t, types.ModeRelay)
	_, _, err := h.coord.Notify(context.Background(), upload.NotifyRequest{URL: "/a.jpg"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	assert.Zero(t, h.db.Len())
}

func TestClientConfig(t *testing.T) {
	ctx := context.Background()

	direct := newHarness(t, types.ModeDirect)
	cc, err := direct.coord.ClientConfig(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "client", cc.UploadMode)
	assert.Equal(t, direct.srv.URL, cc.UploadURL)
	assert.Equal(t, s3test.Bucket, cc.Bucket)
	assert.Equal(t, "jpg,png,txt,bin", cc.Mimetype)
	assert.Equal(t, types.StorageRemote, cc.Storage)
	_, err = direct.coord.Guard().Validate(cc.Multipart["r2token"])
	assert.NoError(t, err)

	relay := newHarness(t, types.ModeRelay)
	cc, err = relay.coord.ClientConfig(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "server", cc.UploadMode)
	assert.Equal(t, types.DefaultRelayURL, cc.UploadURL)
	assert.Contains(t, cc.Multipart, "r2token")
	assert.Empty(t, cc.Multipart["r2token"])
}

func TestDeleteAttachment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay, func(c *types.UploadConfig) { c.SyncDelete = true })

	res, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "gone.txt", Body: strings.NewReader("bye")})
	require.NoError(t, err)

	deleted, err := h.coord.DeleteAttachment(ctx, res.Attachment.ID)
	require.NoError(t, err)
	assert.Equal(t, res.URL, deleted.URL)
	_, ok := h.srv.Object(res.URL)
	assert.False(t, ok)
	assert.Zero(t, h.db.Len())

	_, err = h.coord.DeleteAttachment(ctx, res.Attachment.ID)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

// publishedEvents drains the emitter and returns what was delivered.
func (h *harness) publishedEvents(t *testing.T) []events.EventType {
	t.Helper()
	require.NoError(t, h.emitter.Close(context.Background()))
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	return append([]events.EventType(nil), h.events.seen...)
}

func TestAttachmentEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeRelay)
	body := []byte("evented")

	first, err := h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "a.txt", Body: bytes.NewReader(body)})
	require.NoError(t, err)
	_, err = h.coord.RelayUpload(ctx, upload.RelayFile{Filename: "b.txt", Body: bytes.NewReader(body)})
	require.NoError(t, err)
	_, err = h.coord.DeleteAttachment(ctx, first.Attachment.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{events.EventAttachmentCreated, events.EventAttachmentDeleted}, h.publishedEvents(t),
		"a deduplicated upload emits nothing")
}

func TestAttachmentEvents_NotifyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.ModeDirect)

	for i := 0; i < 3; i++ {
		_, _, err := h.coord.Notify(ctx, upload.NotifyRequest{URL: "uploads/x.jpg", Name: "x.jpg", Size: 1})
		require.NoError(t, err)
	}
	assert.Equal(t, []events.EventType{events.EventAttachmentCreated}, h.publishedEvents(t))
}
