// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3test runs an in-memory S3-compatible store that verifies SigV4 on
// every request. It understands single PUT, DELETE and the multipart calls.
package s3test

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/s3types"
	"github.com/LeeDigitalWorks/uploadgate/pkg/s3api/signature"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

const (
	AccessKeyID     = "AKIDTESTSTORE"
	SecretAccessKey = "test-store-secret"
	Region          = "auto"
	Bucket          = "uploads"
)

// Operation names recorded in Call.Op.
const (
	OpPutObject    = "PutObject"
	OpDeleteObject = "DeleteObject"
	OpInitiate     = "InitiateMultipartUpload"
	OpUploadPart   = "UploadPart"
	OpComplete     = "CompleteMultipartUpload"
	OpAbort        = "AbortMultipartUpload"
	OpUnknown      = "Unknown"
)

const completedEtagFmt = "%s-%d"

// Call is one request the server accepted for dispatch.
type Call struct {
	Op           string
	Key          string
	UploadID     string
	PartNumber   int
	Presigned    bool
	AccessKeyID  string
	SessionToken string
}

type upload struct {
	key   string
	parts map[int][]byte
}

// Server is an httptest server plus the in-memory bucket behind it.
type Server struct {
	*httptest.Server

	verifier *signature.Verifier

	keysMu sync.RWMutex
	keys   map[string]string
	// sessionTokens maps temporary access keys to the token they require.
	sessionTokens map[string]string

	mu       sync.Mutex
	objects  map[string][]byte
	uploads  map[string]*upload
	calls    []Call
	failures map[string]int
	// completeErrorIn200 makes Complete answer 200 with an <Error> document.
	completeErrorIn200 bool
	nextID             int
}

// New starts a server and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		keys:          map[string]string{AccessKeyID: SecretAccessKey},
		sessionTokens: make(map[string]string),
		objects:       make(map[string][]byte),
		uploads:       make(map[string]*upload),
		failures:      make(map[string]int),
	}
	s.verifier = signature.NewVerifier(s.lookupSecret, time.Now)
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Credentials returns signing credentials pointing at this server.
func (s *Server) Credentials() signature.Credentials {
	return signature.Credentials{
		AccessKeyID:     AccessKeyID,
		SecretAccessKey: SecretAccessKey,
		Endpoint:        s.URL,
		Region:          Region,
		Bucket:          Bucket,
	}
}

// StoreConfig returns a StoreConfig with static keys for this server.
func (s *Server) StoreConfig() types.StoreConfig {
	return types.StoreConfig{
		Endpoint:        s.URL,
		Bucket:          Bucket,
		Region:          Region,
		AccessKeyID:     AccessKeyID,
		SecretAccessKey: SecretAccessKey,
	}
}

// AddTemporaryCredentials accepts another key pair that, like STS
// credentials, is only valid together with sessionToken.
func (s *Server) AddTemporaryCredentials(accessKeyID, secretAccessKey, sessionToken string) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	s.keys[accessKeyID] = secretAccessKey
	s.sessionTokens[accessKeyID] = sessionToken
}

func (s *Server) lookupSecret(accessKeyID string) (string, bool) {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	secret, ok := s.keys[accessKeyID]
	return secret, ok
}

// checkSessionToken enforces the token of temporary credentials. A header
// token must be among the signed headers; a query token is covered by the
// signature already.
func (s *Server) checkSessionToken(r *http.Request) (accessKeyID, token string, code s3err.ErrorCode) {
	q := r.URL.Query()
	if cred := q.Get(s3consts.XAmzCredential); cred != "" {
		accessKeyID, _, _ = strings.Cut(cred, "/")
		token = q.Get(s3consts.XAmzSecurityToken)
	} else {
		auth := r.Header.Get(s3consts.Authorization)
		accessKeyID, _, _ = strings.Cut(authField(auth, "Credential="), "/")
		token = r.Header.Get(s3consts.XAmzSecurityToken)
		if token != "" && !headerSigned(auth, strings.ToLower(s3consts.XAmzSecurityToken)) {
			return accessKeyID, token, s3err.ErrAccessDenied
		}
	}

	s.keysMu.RLock()
	want := s.sessionTokens[accessKeyID]
	s.keysMu.RUnlock()
	if token != want {
		return accessKeyID, token, s3err.ErrAccessDenied
	}
	return accessKeyID, token, s3err.ErrNone
}

func authField(auth, prefix string) string {
	i := strings.Index(auth, prefix)
	if i < 0 {
		return ""
	}
	v := auth[i+len(prefix):]
	if j := strings.IndexByte(v, ','); j >= 0 {
		v = v[:j]
	}
	return strings.TrimSpace(v)
}

func headerSigned(auth, name string) bool {
	for _, h := range strings.Split(authField(auth, "SignedHeaders="), ";") {
		if h == name {
			return true
		}
	}
	return false
}

// Fail makes every later op request answer with status and an S3 error body.
func (s *Server) Fail(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = status
}

// ClearFailures removes all injected failures.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]int)
	s.completeErrorIn200 = false
}

// CompleteWithErrorBody makes Complete return 200 carrying an Error document.
func (s *Server) CompleteWithErrorBody() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeErrorIn200 = true
}

// Calls returns a copy of the recorded calls.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts recorded calls of op.
func (s *Server) CallCount(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Object returns the stored bytes for key.
func (s *Server) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[strings.TrimLeft(key, "/")]
	return data, ok
}

// PutObject seeds key directly.
func (s *Server) PutObject(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[strings.TrimLeft(key, "/")] = append([]byte(nil), data...)
}

// OpenUploads lists upload ids not yet completed or aborted.
func (s *Server) OpenUploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.uploads))
	for id := range s.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UploadedParts returns part numbers stored for uploadID.
func (s *Server) UploadedParts(uploadID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok {
		return nil
	}
	nums := make([]int, 0, len(u.parts))
	for n := range u.parts {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if code := s.verifier.VerifyRequest(r); code != s3err.ErrNone {
		writeError(w, code, r.URL.Path)
		return
	}
	accessKeyID, sessionToken, code := s.checkSessionToken(r)
	if code != s3err.ErrNone {
		writeError(w, code, r.URL.Path)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, s3err.ErrInternalError, r.URL.Path)
		return
	}
	payloadHash := r.Header.Get(s3consts.XAmzContentSHA256)
	presigned := r.URL.Query().Get(s3consts.XAmzSignature) != ""
	if !presigned && payloadHash != signature.UnsignedPayload && payloadHash != signature.HashPayload(body) {
		writeError(w, s3err.ErrContentSHA256Mismatch, r.URL.Path)
		return
	}

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != Bucket {
		writeError(w, s3err.ErrNoSuchBucket, r.URL.Path)
		return
	}
	if key == "" {
		writeError(w, s3err.ErrInvalidRequest, r.URL.Path)
		return
	}

	q := r.URL.Query()
	call := Call{
		Op:           classify(r.Method, q),
		Key:          key,
		UploadID:     q.Get(s3consts.QueryUploadID),
		Presigned:    presigned,
		AccessKeyID:  accessKeyID,
		SessionToken: sessionToken,
	}
	call.PartNumber, _ = strconv.Atoi(q.Get(s3consts.QueryPartNumber))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)

	if status, ok := s.failures[call.Op]; ok {
		writeStatusError(w, status, r.URL.Path)
		return
	}

	switch call.Op {
	case OpPutObject:
		s.objects[key] = body
		w.Header().Set(s3consts.ETag, quotedMD5(body))
		w.WriteHeader(http.StatusOK)
	case OpDeleteObject:
		delete(s.objects, key)
		w.WriteHeader(http.StatusNoContent)
	case OpInitiate:
		s.nextID++
		id := fmt.Sprintf("upload-%d", s.nextID)
		s.uploads[id] = &upload{key: key, parts: make(map[int][]byte)}
		writeXML(w, http.StatusOK, s3types.InitiateMultipartUploadResult{
			Xmlns:    s3types.S3Namespace,
			Bucket:   bucket,
			Key:      key,
			UploadID: id,
		})
	case OpUploadPart:
		u, ok := s.uploads[call.UploadID]
		if !ok || u.key != key {
			writeError(w, s3err.ErrNoSuchUpload, r.URL.Path)
			return
		}
		if call.PartNumber < 1 || call.PartNumber > s3consts.MaxPartID {
			writeError(w, s3err.ErrInvalidArgument, r.URL.Path)
			return
		}
		u.parts[call.PartNumber] = body
		w.Header().Set(s3consts.ETag, quotedMD5(body))
		w.WriteHeader(http.StatusOK)
	case OpComplete:
		s.complete(w, r, bucket, key, call.UploadID, body)
	case OpAbort:
		if _, ok := s.uploads[call.UploadID]; !ok {
			writeError(w, s3err.ErrNoSuchUpload, r.URL.Path)
			return
		}
		delete(s.uploads, call.UploadID)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, s3err.ErrNotImplemented, r.URL.Path)
	}
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request, bucket, key, uploadID string, body []byte) {
	if s.completeErrorIn200 {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		resp := s3err.ErrInternalError.ToErrorResponse(r.URL.Path, "")
		_ = xml.NewEncoder(w).Encode(resp)
		return
	}

	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		writeError(w, s3err.ErrNoSuchUpload, r.URL.Path)
		return
	}
	var req s3types.CompleteMultipartUploadRequest
	if err := xml.Unmarshal(body, &req); err != nil || len(req.Parts) == 0 {
		writeError(w, s3err.ErrMalformedXML, r.URL.Path)
		return
	}

	var assembled bytes.Buffer
	sums := md5.New()
	for i, p := range req.Parts {
		if i > 0 && p.PartNumber <= req.Parts[i-1].PartNumber {
			writeError(w, s3err.ErrInvalidPartOrder, r.URL.Path)
			return
		}
		data, ok := u.parts[p.PartNumber]
		if !ok || types.TrimETag(p.ETag) != md5Hex(data) {
			writeError(w, s3err.ErrInvalidPart, r.URL.Path)
			return
		}
		sum := md5.Sum(data)
		sums.Write(sum[:])
		assembled.Write(data)
	}

	s.objects[key] = assembled.Bytes()
	delete(s.uploads, uploadID)
	etag := fmt.Sprintf(completedEtagFmt, hex.EncodeToString(sums.Sum(nil)), len(req.Parts))
	writeXML(w, http.StatusOK, s3types.CompleteMultipartUploadResult{
		Xmlns:    s3types.S3Namespace,
		Location: s.URL + "/" + bucket + "/" + key,
		Bucket:   bucket,
		Key:      key,
		ETag:     `"` + etag + `"`,
	})
}

func classify(method string, q map[string][]string) string {
	_, hasUploads := q[s3consts.QueryUploads]
	_, hasUploadID := q[s3consts.QueryUploadID]
	_, hasPart := q[s3consts.QueryPartNumber]
	switch {
	case method == http.MethodPost && hasUploads:
		return OpInitiate
	case method == http.MethodPut && hasUploadID && hasPart:
		return OpUploadPart
	case method == http.MethodPost && hasUploadID:
		return OpComplete
	case method == http.MethodDelete && hasUploadID:
		return OpAbort
	case method == http.MethodPut:
		return OpPutObject
	case method == http.MethodDelete:
		return OpDeleteObject
	}
	return OpUnknown
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func quotedMD5(b []byte) string {
	return `"` + md5Hex(b) + `"`
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set(s3consts.ContentType, "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code s3err.ErrorCode, resource string) {
	writeXML(w, code.HTTPStatusCode(), code.ToErrorResponse(resource, ""))
}

func writeStatusError(w http.ResponseWriter, status int, resource string) {
	code := s3err.ErrInternalError
	switch status {
	case http.StatusForbidden:
		code = s3err.ErrAccessDenied
	case http.StatusNotFound:
		code = s3err.ErrNoSuchKey
	case http.StatusBadRequest:
		code = s3err.ErrInvalidRequest
	}
	writeXML(w, status, code.ToErrorResponse(resource, ""))
}
