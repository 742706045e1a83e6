// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package gateway_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/attachment/db/memory"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway"
	"github.com/LeeDigitalWorks/uploadgate/pkg/gateway/filter"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3client/s3test"
	"github.com/LeeDigitalWorks/uploadgate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/uploadgate/pkg/token"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/upload"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

type env struct {
	http  *httptest.Server
	store *s3test.Server
	db    *memory.DB
	token string
}

type reply struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func newEnv(t *testing.T, mode types.UploadMode, mutate ...func(*types.UploadConfig, *gateway.Config)) *env {
	t.Helper()
	srv := s3test.New(t)
	client, err := s3client.New(s3client.Config{Credentials: srv.Credentials()})
	require.NoError(t, err)

	cfg := &types.UploadConfig{
		Store:     srv.StoreConfig(),
		Mode:      mode,
		TokenTTL:  10 * time.Minute,
		SaveKey:   types.DefaultSaveKey,
		MaxSize:   10 << 20,
		Mimetypes: []string{"jpg", "png", "txt", "bin"},
		Chunking:  true,
		ChunkSize: 5 << 20,
		CDNURL:    "https://cdn.example.com",
		RelayURL:  types.DefaultRelayURL,
	}
	gwCfg := gateway.Config{Upload: cfg, CORSDomains: []string{"app.example.com"}}
	for _, m := range mutate {
		m(cfg, &gwCfg)
	}

	files, err := backend.NewFiles(t.TempDir())
	require.NoError(t, err)
	chunks, err := backend.NewFiles(t.TempDir())
	require.NoError(t, err)
	guard, err := token.NewGuard(s3test.AccessKeyID, s3test.SecretAccessKey, token.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	set, err := backend.NewSet(backend.Deps{Config: cfg, Files: files, Store: client})
	require.NoError(t, err)
	mem := memory.New()

	coord, err := upload.New(upload.Config{
		Upload:   cfg,
		Store:    client,
		Guard:    guard,
		Backends: set,
		DB:       mem,
		Files:    files,
		Chunks:   chunks,
		Clock:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	gwCfg.Coordinator = coord
	gw, err := gateway.NewServer(gwCfg)
	require.NoError(t, err)
	hs := httptest.NewServer(gw)
	t.Cleanup(hs.Close)

	tok, _, err := guard.IssueTTL(time.Hour)
	require.NoError(t, err)
	return &env{http: hs, store: srv, db: mem, token: tok}
}

func (e *env) do(t *testing.T, req *http.Request) (*http.Response, reply) {
	t.Helper()
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var r reply
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &r), string(raw))
	}
	return resp, r
}

func (e *env) postJSON(t *testing.T, path string, body map[string]any) (*http.Response, reply) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.http.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

func (e *env) postForm(t *testing.T, path string, form url.Values) (*http.Response, reply) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.http.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, req)
}

func (e *env) postMultipart(t *testing.T, path string, fields map[string]string, filename string, content []byte) (*http.Response, reply) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(filter.FileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, e.http.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(t, req)
}

func decode[T any](t *testing.T, r reply) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func putPresigned(t *testing.T, u string, body []byte) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, u, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return resp.Header.Get("ETag")
}

func TestHTTP_ScenarioA(t *testing.T) {
	e := newEnv(t, types.ModeDirect)

	resp, r := e.postJSON(t, "/upload/params", map[string]any{"name": "photo.jpg", "md5": "abc123", "r2token": e.token})
	require.Equal(t, http.StatusOK, resp.StatusCode, r.Msg)
	require.Equal(t, 1, r.Code)
	assert.NotEmpty(t, resp.Header.Get(filter.HeaderRequestID))
	params := decode[upload.ParamsResult](t, r)
	assert.Equal(t, "uploads/20250314/abc123.jpg", params.Key)
	assert.Equal(t, fixedNow.Add(10*time.Minute).Unix(), params.Expire)

	putPresigned(t, params.URL, []byte("jpeg-bytes"))

	form := url.Values{
		"r2token": {e.token}, "url": {"/" + params.Key}, "name": {"photo.jpg"},
		"md5": {"abc123"}, "size": {"10"}, "type": {"image/jpeg"}, "width": {"640"}, "height": {"480"},
	}
	resp, r = e.postForm(t, "/upload/notify", form)
	require.Equal(t, http.StatusOK, resp.StatusCode, r.Msg)
	first := decode[map[string]any](t, r)
	assert.Equal(t, "https://cdn.example.com/uploads/20250314/abc123.jpg", first["fullurl"])

	resp, r = e.postForm(t, "/upload/notify", form)
	require.Equal(t, http.StatusOK, resp.StatusCode, r.Msg)
	second := decode[map[string]any](t, r)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, 1, e.db.Len())
}

func TestHTTP_ScenarioB(t *testing.T) {
	e := newEnv(t, types.ModeDirect, func(c *types.UploadConfig, _ *gateway.Config) { c.MaxSize = 100 << 20 })

	_, r := e.postJSON(t, "/upload/params", map[string]any{
		"name": "video.bin", "md5": "feedface", "chunk": 1, "size": 30 << 20, "chunksize": 10 << 20, "r2token": e.token,
	})
	require.Equal(t, 1, r.Code, r.Msg)
	params := decode[upload.ParamsResult](t, r)
	require.Len(t, params.PartURLs, 3)

	form := url.Values{
		"r2token": {e.token}, "action": {"merge"}, "chunkcount": {"3"},
		"key": {params.Key}, "uploadId": {params.UploadID}, "filename": {"video.bin"}, "filesize": {"30"},
	}
	for i, part := range []string{"one", "two", "three"} {
		form.Set("etags["+string(rune('0'+i))+"]", putPresigned(t, params.PartURLs[i], []byte(part)))
	}

	resp, r := e.postForm(t, "/upload/relay", form)
	require.Equal(t, http.StatusOK, resp.StatusCode, r.Msg)
	res := decode[upload.UploadResult](t, r)
	assert.Equal(t, "/"+params.Key, res.URL)
	assert.Equal(t, "https://cdn.example.com/"+params.Key, res.FullURL)

	stored, ok := e.store.Object(params.Key)
	require.True(t, ok)
	assert.Equal(t, "onetwothree", string(stored))
	assert.Equal(t, 1, e.db.Len())
}

func TestHTTP_ScenarioC(t *testing.T) {
	e := newEnv(t, types.ModeDirect, func(c *types.UploadConfig, _ *gateway.Config) { c.Mimetypes = []string{"jpg", "png"} })

	resp, r := e.postJSON(t, "/upload/params", map[string]any{"name": "payload.php", "md5": "x", "r2token": e.token})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, r.Code)
	assert.Equal(t, "validation", r.Kind)
	assert.NotEmpty(t, r.Msg)
	assert.Empty(t, e.store.Calls())
}

func TestHTTP_TokenRequired(t *testing.T) {
	e := newEnv(t, types.ModeDirect)

	resp, r := e.postJSON(t, "/upload/params", map[string]any{"name": "photo.jpg"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "authorization", r.Kind)

	resp, r = e.postJSON(t, "/upload/notify", map[string]any{"url": "/x.jpg", "token": "AKID:bad:sig"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "authorization", r.Kind)
	assert.Zero(t, e.db.Len())
	assert.Empty(t, e.store.Calls())
}

func (e *env) getConfig(t *testing.T, headers map[string]string) backend.ClientConfig {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.http.URL+"/upload/config", nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, r := e.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[backend.ClientConfig](t, r)
}

func TestHTTP_ClientConfig(t *testing.T) {
	e := newEnv(t, types.ModeDirect, func(_ *types.UploadConfig, gw *gateway.Config) {
		gw.ConfigKeys = []string{"backend-key"}
	})

	cfg := e.getConfig(t, map[string]string{filter.HeaderConfigKey: "backend-key"})
	assert.Equal(t, "client", cfg.UploadMode)
	assert.Equal(t, s3test.Bucket, cfg.Bucket)
	assert.Equal(t, types.StorageRemote, cfg.Storage)
	require.NotEmpty(t, cfg.Multipart["r2token"])

	resp, r := e.postJSON(t, "/upload/params", map[string]any{"name": "photo.jpg", "md5": "abc", "r2token": cfg.Multipart["r2token"]})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, r.Code)
}

func TestHTTP_ClientConfig_AnonymousGetsNoToken(t *testing.T) {
	e := newEnv(t, types.ModeDirect, func(_ *types.UploadConfig, gw *gateway.Config) {
		gw.ConfigKeys = []string{"backend-key"}
	})

	for _, headers := range []map[string]string{
		nil,
		{filter.HeaderConfigKey: "guess"},
		{"Authorization": "Bearer guess"},
	} {
		cfg := e.getConfig(t, headers)
		assert.Equal(t, "client", cfg.UploadMode)
		assert.Contains(t, cfg.Multipart, "r2token")
		assert.Empty(t, cfg.Multipart["r2token"])

		resp, r := e.postJSON(t, "/upload/params", map[string]any{"name": "photo.jpg", "md5": "abc", "r2token": cfg.Multipart["r2token"]})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, 0, r.Code)
	}
	assert.Empty(t, e.store.Calls())
}

func TestHTTP_ClientConfig_Public(t *testing.T) {
	e := newEnv(t, types.ModeDirect, func(_ *types.UploadConfig, gw *gateway.Config) {
		gw.PublicConfig = true
	})

	cfg := e.getConfig(t, nil)
	assert.NotEmpty(t, cfg.Multipart["r2token"])
}

func TestHTTP_Routing(t *testing.T) {
	e := newEnv(t, types.ModeDirect)

	req, _ := http.NewRequest(http.MethodGet, e.http.URL+"/upload/params", nil)
	resp, r := e.do(t, req)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "method_not_allowed", r.Kind)

	req, _ = http.NewRequest(http.MethodPost, e.http.URL+"/upload/elsewhere", nil)
	resp, r = e.do(t, req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", r.Kind)
}

func TestHTTP_CORSPreflight(t *testing.T) {
	e := newEnv(t, types.ModeDirect)

	req, _ := http.NewRequest(http.MethodOptions, e.http.URL+"/upload/params", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, _ := e.do(t, req)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHTTP_RelaySingleShot(t *testing.T) {
	e := newEnv(t, types.ModeRelay)
	body := []byte("relayed through the gateway")

	resp, r := e.postMultipart(t, "/upload/relay", map[string]string{"r2token": e.token, "category": "unclassed"}, "notes.txt", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, r.Msg)
	res := decode[upload.UploadResult](t, r)
	assert.True(t, strings.HasPrefix(res.URL, "/uploads/20250314/"))
	assert.Equal(t, "https://cdn.example.com"+res.URL, res.FullURL)

	stored, ok := e.store.Object(res.URL)
	require.True(t, ok)
	assert.Equal(t, body, stored)

	resp, r = e.postMultipart(t, "/upload/relay", map[string]string{"r2token": e.token}, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", r.Kind)
}

func TestHTTP_RelayChunkedAndMerge(t *testing.T) {
	e := newEnv(t, types.ModeRelay, func(c *types.UploadConfig, _ *gateway.Config) { c.MaxSize = 100 << 20 })

	_, r := e.postJSON(t, "/upload/params", map[string]any{
		"name": "movie.bin", "md5": "cafe", "chunk": true, "size": 12 << 20, "chunksize": 6 << 20, "r2token": e.token,
	})
	require.Equal(t, 1, r.Code, r.Msg)
	params := decode[upload.ParamsResult](t, r)
	require.Len(t, params.PartURLs, 2)

	chunks := [][]byte{[]byte("first-half"), []byte("second-half")}
	var etags []string
	for i, c := range chunks {
		resp, r := e.postMultipart(t, "/upload/relay", map[string]string{
			"r2token": e.token, "chunkid": "c0ffee", "chunkindex": string(rune('0' + i)), "chunkcount": "2",
			"key": params.Key, "uploadId": params.UploadID,
		}, "blob", c)
		require.Equal(t, http.StatusOK, resp.StatusCode, r.Msg)
		res := decode[upload.ChunkResult](t, r)
		assert.Equal(t, `"`+res.ETag+`"`, resp.Header.Get("ETag"))
		etags = append(etags, res.ETag)
	}

	form := url.Values{
		"r2token": {e.token}, "action": {"merge"}, "chunkid": {"c0ffee"}, "chunkcount": {"2"},
		"key": {params.Key}, "uploadId": {params.UploadID}, "filename": {"movie.bin"},
		"etags[]": etags,
	}
	resp, r := e.postForm(t, "/upload/relay", form)
	require.Equal(t, http.StatusOK, resp.StatusCode, r.Msg)

	stored, ok := e.store.Object(params.Key)
	require.True(t, ok)
	assert.Equal(t, "first-halfsecond-half", string(stored))
}

func TestHTTP_MergeMismatch(t *testing.T) {
	e := newEnv(t, types.ModeDirect)

	form := url.Values{
		"r2token": {e.token}, "action": {"merge"}, "chunkcount": {"3"},
		"key": {"uploads/x.bin"}, "uploadId": {"u1"}, "etags[]": {"a", "b"},
	}
	resp, r := e.postForm(t, "/upload/relay", form)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", r.Kind)
	assert.Empty(t, e.store.Calls())
}

func TestHTTP_RateLimited(t *testing.T) {
	limiter := filter.NewRateLimitFilter(filter.RateLimitConfig{Enabled: true, IPRPS: 0.001, IPBurst: 1}, nil)
	defer limiter.Close()
	e := newEnv(t, types.ModeDirect, func(_ *types.UploadConfig, g *gateway.Config) { g.RateLimit = limiter })

	req, _ := http.NewRequest(http.MethodGet, e.http.URL+"/upload/config", nil)
	resp, _ := e.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, e.http.URL+"/upload/config", nil)
	resp, r := e.do(t, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", r.Kind)
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := gateway.NewServer(gateway.Config{})
	assert.Error(t, err)
}
