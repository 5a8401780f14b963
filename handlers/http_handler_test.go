package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/auth"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
	"github.com/streamly/streamly-services-uploads/services"
)

type stubVerifier struct {
	userID string
}

func (s stubVerifier) Verify(ctx context.Context, token string) (*auth.Identity, error) {
	if token != "good-token" {
		return nil, &apperror.AuthError{Reason: "invalid token"}
	}
	return &auth.Identity{UserID: s.userID}, nil
}

type stubUploads struct {
	createDraftFn func(ownerID string) (string, error)
	completeFn    func(ownerID, videoID string, meta models.FinalizeMetadata) (*services.CompleteUploadResult, error)
	signPartFn    func(ownerID, videoID, uploadID string, partNumber int32) (string, error)
	listPartsFn   func(ownerID, videoID, uploadID string) ([]models.Part, error)
}

func (s *stubUploads) CreateDraftVideo(ctx context.Context, ownerID string) (string, error) {
	return s.createDraftFn(ownerID)
}

func (s *stubUploads) GetUploadParameters(ctx context.Context, ownerID, videoID, contentType string) (string, error) {
	return "https://signed.example/single", nil
}

func (s *stubUploads) CreateMultipartUpload(ctx context.Context, ownerID, videoID, contentType string) (*models.MultipartUpload, error) {
	return &models.MultipartUpload{UploadID: "mpu-1", Key: "videos/u/v.mp4"}, nil
}

func (s *stubUploads) SignPart(ctx context.Context, ownerID, videoID, uploadID string, partNumber int32) (string, error) {
	if s.signPartFn != nil {
		return s.signPartFn(ownerID, videoID, uploadID, partNumber)
	}
	return "https://signed.example/part", nil
}

func (s *stubUploads) ListParts(ctx context.Context, ownerID, videoID, uploadID string) ([]models.Part, error) {
	if s.listPartsFn != nil {
		return s.listPartsFn(ownerID, videoID, uploadID)
	}
	return []models.Part{{PartNumber: 1, ETag: `"a"`}}, nil
}

func (s *stubUploads) CompleteMultipartUpload(ctx context.Context, ownerID, videoID, uploadID string, parts []models.Part) (*models.CompletionResult, error) {
	return &models.CompletionResult{Key: "videos/u/v.mp4"}, nil
}

func (s *stubUploads) AbortMultipartUpload(ctx context.Context, ownerID, videoID, uploadID string) error {
	return nil
}

func (s *stubUploads) CompleteUpload(ctx context.Context, ownerID, videoID string, meta models.FinalizeMetadata) (*services.CompleteUploadResult, error) {
	if s.completeFn != nil {
		return s.completeFn(ownerID, videoID, meta)
	}
	return &services.CompleteUploadResult{VideoID: videoID}, nil
}

func (s *stubUploads) DiscardDraft(ctx context.Context, ownerID, videoID, uploadID string) error {
	return nil
}

func newTestRouter(uploads services.UploadService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHTTPHandler(uploads, stubVerifier{userID: "owner-1"}, logging.NewNop())
	h.Register(r)
	return r
}

func doPost(t *testing.T, r *gin.Engine, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestUploadEndpointRequiresAuth(t *testing.T) {
	r := newTestRouter(&stubUploads{})

	w := doPost(t, r, "", map[string]any{"type": "createDraftVideo"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, apperror.CodeUnauthorized, decodeBody(t, w)["code"])

	w = doPost(t, r, "bad-token", map[string]any{"type": "createDraftVideo"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateDraftVideoHandler(t *testing.T) {
	uploads := &stubUploads{
		createDraftFn: func(ownerID string) (string, error) {
			require.Equal(t, "owner-1", ownerID)
			return "vid-1", nil
		},
	}
	r := newTestRouter(uploads)

	w := doPost(t, r, "good-token", map[string]any{"type": "createDraftVideo"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "vid-1", decodeBody(t, w)["videoId"])
}

func TestCreateDraftVideoConflictShape(t *testing.T) {
	uploads := &stubUploads{
		createDraftFn: func(ownerID string) (string, error) {
			return "", apperror.NewUnactivatedVideoError("vid-blocking")
		},
	}
	r := newTestRouter(uploads)

	w := doPost(t, r, "good-token", map[string]any{"type": "createDraftVideo"})
	require.Equal(t, http.StatusConflict, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, apperror.CodeUnactivatedVideo, body["code"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "vid-blocking", details["videoId"])
}

func TestForbiddenMapsTo403(t *testing.T) {
	uploads := &stubUploads{
		createDraftFn: func(ownerID string) (string, error) { return "vid-1", nil },
	}
	uploads.completeFn = func(ownerID, videoID string, meta models.FinalizeMetadata) (*services.CompleteUploadResult, error) {
		return nil, &apperror.ForbiddenError{}
	}
	r := newTestRouter(uploads)

	w := doPost(t, r, "good-token", map[string]any{"type": "completeUpload", "videoId": "vid-other"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, apperror.CodeForbidden, decodeBody(t, w)["code"])
}

func TestInvalidOperationType(t *testing.T) {
	r := newTestRouter(&stubUploads{})

	w := doPost(t, r, "good-token", map[string]any{"type": "dropTables"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, apperror.CodeInvalidRequest, decodeBody(t, w)["code"])
}

func TestMutatingOperationRejectedOnGet(t *testing.T) {
	r := newTestRouter(&stubUploads{})

	req := httptest.NewRequest(http.MethodGet, "/api/videos/upload?type=createDraftVideo", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignPartHandler(t *testing.T) {
	uploads := &stubUploads{
		signPartFn: func(ownerID, videoID, uploadID string, partNumber int32) (string, error) {
			require.Equal(t, "vid-1", videoID)
			require.Equal(t, "mpu-1", uploadID)
			require.Equal(t, int32(4), partNumber)
			return "https://signed.example/part-4", nil
		},
	}
	r := newTestRouter(uploads)

	req := httptest.NewRequest(http.MethodGet, "/api/videos/upload?type=signPart&videoId=vid-1&uploadId=mpu-1&partNumber=4", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://signed.example/part-4", decodeBody(t, w)["url"])
}

func TestListPartsHandler(t *testing.T) {
	r := newTestRouter(&stubUploads{})

	req := httptest.NewRequest(http.MethodGet, "/api/videos/upload?type=listParts&videoId=vid-1&uploadId=mpu-1", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Parts []models.Part `json:"parts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, []models.Part{{PartNumber: 1, ETag: `"a"`}}, body.Parts)
}

func TestCompleteUploadWarningShape(t *testing.T) {
	uploads := &stubUploads{
		completeFn: func(ownerID, videoID string, meta models.FinalizeMetadata) (*services.CompleteUploadResult, error) {
			require.Equal(t, 1920, meta.Width)
			require.Equal(t, 120, meta.Duration)
			return &services.CompleteUploadResult{VideoID: videoID, SyncWarning: true}, nil
		},
	}
	r := newTestRouter(uploads)

	w := doPost(t, r, "good-token", map[string]any{
		"type": "completeUpload", "videoId": "vid-1",
		"width": 1920, "height": 1080, "duration": 120, "size": 1 << 20, "format": "video/mp4",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, true, body["success"])
	require.Equal(t, apperror.CodeSyncFailure, body["warning"])
}

func TestStorageErrorIsSanitized(t *testing.T) {
	uploads := &stubUploads{
		completeFn: func(ownerID, videoID string, meta models.FinalizeMetadata) (*services.CompleteUploadResult, error) {
			return nil, &apperror.StorageError{Op: "CompleteMultipartUpload", Err: errors.New("bucket secret leaked here")}
		},
	}
	r := newTestRouter(uploads)

	w := doPost(t, r, "good-token", map[string]any{"type": "completeUpload", "videoId": "vid-1"})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, apperror.CodeStorageFailure, body["code"])
	require.Equal(t, "upload operation failed", body["error"])
	require.NotContains(t, w.Body.String(), "bucket secret")
}
