package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
)

type staticProbe struct {
	info VideoInfo
}

func (p staticProbe) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	info := p.info
	return &info, nil
}

func validProbe() staticProbe {
	return staticProbe{info: VideoInfo{Width: 1920, Height: 1080, Duration: 120, Format: "mp4"}}
}

// fakeUploadServer plays both roles the uploader talks to: the session
// endpoint and the presigned storage URLs.
type fakeUploadServer struct {
	mu sync.Mutex

	draftID    string
	conflictID string

	uploadID      string
	parts         map[int32]string
	partPutCount  map[int32]int
	singlePuts    int
	aborted       bool
	completed     bool
	completeFails bool
	partPutsFail  bool

	completedParts []models.Part
	apiRequests    int

	server *httptest.Server
}

func newFakeUploadServer(t *testing.T) *fakeUploadServer {
	t.Helper()

	f := &fakeUploadServer{
		draftID:      "vid-1",
		parts:        map[int32]string{},
		partPutCount: map[int32]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/videos/upload", f.handleAPI)
	mux.HandleFunc("/storage/", f.handleStorage)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUploadServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiRequests++

	if r.Header.Get("Authorization") != "Bearer test-token" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "no token", "code": apperror.CodeUnauthorized})
		return
	}

	if r.Method == http.MethodGet {
		switch r.URL.Query().Get("type") {
		case "listParts":
			parts := make([]models.Part, 0, len(f.parts))
			for n, etag := range f.parts {
				parts = append(parts, models.Part{PartNumber: n, ETag: etag})
			}
			writeJSON(w, http.StatusOK, map[string]any{"parts": parts})
		case "signPart":
			n := r.URL.Query().Get("partNumber")
			writeJSON(w, http.StatusOK, map[string]any{"url": f.server.URL + "/storage/part/" + n})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad type", "code": apperror.CodeInvalidRequest})
		}
		return
	}

	var req map[string]any
	json.NewDecoder(r.Body).Decode(&req)

	switch req["type"] {
	case "createDraftVideo":
		if f.conflictID != "" {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "unfinished upload exists",
				"code":    apperror.CodeUnactivatedVideo,
				"details": map[string]any{"videoId": f.conflictID},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"videoId": f.draftID})
	case "getUploadParameters":
		writeJSON(w, http.StatusOK, map[string]any{"url": f.server.URL + "/storage/single"})
	case "createMultipartUpload":
		f.uploadID = "mpu-1"
		writeJSON(w, http.StatusOK, map[string]any{"uploadId": f.uploadID, "key": "videos/owner-1/vid-1.mp4"})
	case "completeMultipartUpload":
		if f.completeFails {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "upload operation failed", "code": apperror.CodeStorageFailure})
			return
		}
		raw, _ := json.Marshal(req["parts"])
		json.Unmarshal(raw, &f.completedParts)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "key": "videos/owner-1/vid-1.mp4"})
	case "abortMultipartUpload":
		f.aborted = true
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case "completeUpload":
		f.completed = true
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "videoId": f.draftID})
	case "discardDraft":
		f.aborted = true
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad type", "code": apperror.CodeInvalidRequest})
	}
}

func (f *fakeUploadServer) handleStorage(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasSuffix(r.URL.Path, "/single") {
		f.singlePuts++
		w.WriteHeader(http.StatusOK)
		return
	}

	n, err := strconv.ParseInt(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.partPutCount[int32(n)]++
	if f.partPutsFail {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	etag := fmt.Sprintf("%q", fmt.Sprintf("etag-%d-%d", n, len(body)))
	f.parts[int32(n)] = etag
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func testToken(ctx context.Context) (string, error) { return "test-token", nil }

func writeTestFile(t *testing.T, size int) string {
	t.Helper()

	data := bytes.Repeat([]byte("streamly"), size/8+1)[:size]
	path := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestUploader(t *testing.T, f *fakeUploadServer, opts ...Option) (*Uploader, *FileStateStoreImpl) {
	t.Helper()

	states, err := NewFileStateStoreImpl(t.TempDir())
	require.NoError(t, err)

	client := NewClient(f.server.URL, testToken, logging.NewNop())
	opts = append([]Option{WithProbe(validProbe())}, opts...)
	return New(client, states, logging.NewNop(), opts...), states
}

func TestUploadSingleShot(t *testing.T) {
	f := newFakeUploadServer(t)
	u, _ := newTestUploader(t, f)
	path := writeTestFile(t, 2048)

	result, err := u.Upload(context.Background(), path, "My Video")
	require.NoError(t, err)
	require.Equal(t, "vid-1", result.VideoID)

	require.Equal(t, 1, f.singlePuts)
	require.True(t, f.completed)
	require.Empty(t, f.partPutCount)
}

func TestUploadMultipart(t *testing.T) {
	f := newFakeUploadServer(t)
	u, states := newTestUploader(t, f, WithPartSize(1024), WithMultipartThreshold(1), WithConcurrency(3))
	path := writeTestFile(t, 10*1024)

	result, err := u.Upload(context.Background(), path, "")
	require.NoError(t, err)
	require.Equal(t, "vid-1", result.VideoID)
	require.Equal(t, "videos/owner-1/vid-1.mp4", result.Key)

	require.Len(t, f.completedParts, 10)
	for i, p := range f.completedParts {
		require.Equal(t, int32(i+1), p.PartNumber)
	}
	require.True(t, f.completed)

	fp, err := Fingerprint(path)
	require.NoError(t, err)
	_, err = states.Load(fp)
	require.ErrorIs(t, err, ErrStateNotFound)
}

func TestUploadResumesSkippingAcceptedParts(t *testing.T) {
	f := newFakeUploadServer(t)
	f.uploadID = "mpu-1"
	for n := int32(1); n <= 3; n++ {
		f.parts[n] = fmt.Sprintf("%q", fmt.Sprintf("etag-%d", n))
	}

	u, states := newTestUploader(t, f, WithPartSize(1024), WithMultipartThreshold(1))
	path := writeTestFile(t, 10*1024)

	fp, err := Fingerprint(path)
	require.NoError(t, err)
	require.NoError(t, states.Save(&ResumeState{
		Fingerprint: fp,
		VideoID:     "vid-1",
		UploadID:    "mpu-1",
		Key:         "videos/owner-1/vid-1.mp4",
		PartSize:    1024,
		Parts:       map[int32]string{},
	}))

	_, err = u.Upload(context.Background(), path, "")
	require.NoError(t, err)

	for n := int32(1); n <= 3; n++ {
		require.Zero(t, f.partPutCount[n], "part %d was re-uploaded", n)
	}
	for n := int32(4); n <= 10; n++ {
		require.Equal(t, 1, f.partPutCount[n], "part %d", n)
	}
	require.Len(t, f.completedParts, 10)
}

func TestUploadDraftConflict(t *testing.T) {
	f := newFakeUploadServer(t)
	f.conflictID = "vid-blocking"

	u, _ := newTestUploader(t, f)
	path := writeTestFile(t, 2048)

	_, err := u.Upload(context.Background(), path, "")
	require.Error(t, err)

	blockingID, ok := IsDraftConflict(err)
	require.True(t, ok)
	require.Equal(t, "vid-blocking", blockingID)
}

func TestUploadRejectsInvalidVideoBeforeAnyRequest(t *testing.T) {
	f := newFakeUploadServer(t)
	u, _ := newTestUploader(t, f, WithProbe(staticProbe{info: VideoInfo{Width: 1920, Height: 1080, Duration: 30}}))
	path := writeTestFile(t, 2048)

	_, err := u.Upload(context.Background(), path, "")

	var invalid *apperror.ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Zero(t, f.apiRequests)
}

func TestUploadStopsDispatchingAfterPartFailure(t *testing.T) {
	f := newFakeUploadServer(t)
	f.partPutsFail = true

	u, states := newTestUploader(t, f, WithPartSize(1024), WithMultipartThreshold(1), WithConcurrency(1))
	path := writeTestFile(t, 10*1024)

	_, err := u.Upload(context.Background(), path, "")
	require.Error(t, err)

	// only the first chunk was attempted (once per retry); the producer
	// stopped handing out work after cancellation
	require.Equal(t, 2, f.partPutCount[1])
	for n := int32(2); n <= 10; n++ {
		require.Zero(t, f.partPutCount[n], "part %d was dispatched after failure", n)
	}

	// state survives a transfer failure so a later run can resume
	fp, err := Fingerprint(path)
	require.NoError(t, err)
	state, err := states.Load(fp)
	require.NoError(t, err)
	require.Equal(t, "mpu-1", state.UploadID)
}

func TestUploadAbortsOnCompletionFailure(t *testing.T) {
	f := newFakeUploadServer(t)
	f.completeFails = true

	u, states := newTestUploader(t, f, WithPartSize(1024), WithMultipartThreshold(1))
	path := writeTestFile(t, 4*1024)

	_, err := u.Upload(context.Background(), path, "")
	require.Error(t, err)
	require.True(t, f.aborted)

	fp, err := Fingerprint(path)
	require.NoError(t, err)
	_, err = states.Load(fp)
	require.ErrorIs(t, err, ErrStateNotFound)
}
