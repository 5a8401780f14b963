package services

import (
	"context"
	"errors"
	"sort"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
	"github.com/streamly/streamly-services-uploads/store"
)

// CompleteUploadResult reports a finished upload. SyncWarning is set when
// the search projection failed and was queued for repair; the upload itself
// is still committed.
type CompleteUploadResult struct {
	VideoID     string
	SyncWarning bool
}

// UploadService is the upload session controller: every operation assumes an
// authenticated owner id and enforces ownership before touching storage.
type UploadService interface {
	CreateDraftVideo(ctx context.Context, ownerID string) (string, error)
	GetUploadParameters(ctx context.Context, ownerID, videoID, contentType string) (string, error)
	CreateMultipartUpload(ctx context.Context, ownerID, videoID, contentType string) (*models.MultipartUpload, error)
	SignPart(ctx context.Context, ownerID, videoID, uploadID string, partNumber int32) (string, error)
	ListParts(ctx context.Context, ownerID, videoID, uploadID string) ([]models.Part, error)
	CompleteMultipartUpload(ctx context.Context, ownerID, videoID, uploadID string, parts []models.Part) (*models.CompletionResult, error)
	AbortMultipartUpload(ctx context.Context, ownerID, videoID, uploadID string) error
	CompleteUpload(ctx context.Context, ownerID, videoID string, meta models.FinalizeMetadata) (*CompleteUploadResult, error)
	DiscardDraft(ctx context.Context, ownerID, videoID, uploadID string) error
}

type UploadServiceImpl struct {
	registry RegistryService
	storage  store.ObjectStorage
	sync     SyncService

	logger logging.Logger
}

func NewUploadServiceImpl(registry RegistryService, storage store.ObjectStorage, syncSvc SyncService, l logging.Logger) *UploadServiceImpl {
	return &UploadServiceImpl{
		registry: registry,
		storage:  storage,
		sync:     syncSvc,
		logger:   l,
	}
}

func (svc *UploadServiceImpl) CreateDraftVideo(ctx context.Context, ownerID string) (string, error) {
	rec, err := svc.registry.CreateDraft(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (svc *UploadServiceImpl) GetUploadParameters(ctx context.Context, ownerID, videoID, contentType string) (string, error) {
	if err := svc.registry.VerifyOwnership(ctx, ownerID, videoID); err != nil {
		return "", err
	}
	return svc.storage.SignSingleUpload(ctx, store.ObjectKey(ownerID, videoID), contentType)
}

func (svc *UploadServiceImpl) CreateMultipartUpload(ctx context.Context, ownerID, videoID, contentType string) (*models.MultipartUpload, error) {
	if err := svc.registry.VerifyOwnership(ctx, ownerID, videoID); err != nil {
		return nil, err
	}
	return svc.storage.CreateMultipartUpload(ctx, store.ObjectKey(ownerID, videoID), contentType)
}

func (svc *UploadServiceImpl) SignPart(ctx context.Context, ownerID, videoID, uploadID string, partNumber int32) (string, error) {
	if partNumber < 1 {
		return "", apperror.NewValidationError("partNumber must be >= 1")
	}
	if err := svc.registry.VerifyOwnership(ctx, ownerID, videoID); err != nil {
		return "", err
	}
	return svc.storage.SignPartUpload(ctx, store.ObjectKey(ownerID, videoID), uploadID, partNumber)
}

func (svc *UploadServiceImpl) ListParts(ctx context.Context, ownerID, videoID, uploadID string) ([]models.Part, error) {
	if err := svc.registry.VerifyOwnership(ctx, ownerID, videoID); err != nil {
		return nil, err
	}
	return svc.storage.ListParts(ctx, store.ObjectKey(ownerID, videoID), uploadID)
}

// CompleteMultipartUpload assembles the object. Parts may arrive in any
// submission order but must form the full 1..N set; gaps are rejected by the
// provider and surface as a storage error.
func (svc *UploadServiceImpl) CompleteMultipartUpload(ctx context.Context, ownerID, videoID, uploadID string, parts []models.Part) (*models.CompletionResult, error) {
	if len(parts) == 0 {
		return nil, apperror.NewValidationError("parts must not be empty")
	}
	for _, p := range parts {
		if p.PartNumber < 1 || p.ETag == "" {
			return nil, apperror.NewValidationError("malformed part entry")
		}
	}
	if err := svc.registry.VerifyOwnership(ctx, ownerID, videoID); err != nil {
		return nil, err
	}

	ordered := make([]models.Part, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PartNumber < ordered[j].PartNumber })

	return svc.storage.CompleteMultipartUpload(ctx, store.ObjectKey(ownerID, videoID), uploadID, ordered)
}

// AbortMultipartUpload releases the provider-side session. The draft record
// stays put: abort frees storage, it does not resolve the draft.
func (svc *UploadServiceImpl) AbortMultipartUpload(ctx context.Context, ownerID, videoID, uploadID string) error {
	if err := svc.registry.VerifyOwnership(ctx, ownerID, videoID); err != nil {
		return err
	}
	return svc.storage.AbortMultipartUpload(ctx, store.ObjectKey(ownerID, videoID), uploadID)
}

// CompleteUpload finalizes the record with client-measured metadata, then
// projects it into the search index. A sync failure is reported as a
// warning, never as a failure of the upload.
func (svc *UploadServiceImpl) CompleteUpload(ctx context.Context, ownerID, videoID string, meta models.FinalizeMetadata) (*CompleteUploadResult, error) {
	if err := svc.registry.VerifyOwnership(ctx, ownerID, videoID); err != nil {
		return nil, err
	}

	rec, err := svc.registry.Finalize(ctx, videoID, meta)
	if err != nil {
		return nil, err
	}

	result := &CompleteUploadResult{VideoID: rec.ID}

	if err := svc.sync.ProjectVideo(ctx, rec); err != nil {
		var syncErr *apperror.SyncError
		if errors.As(err, &syncErr) {
			result.SyncWarning = true
			return result, nil
		}
		return nil, err
	}

	return result, nil
}

// DiscardDraft resolves an abandoned draft explicitly: the record is
// soft-transitioned out of the blocking state and any known multipart
// session is aborted best-effort.
func (svc *UploadServiceImpl) DiscardDraft(ctx context.Context, ownerID, videoID, uploadID string) error {
	if err := svc.registry.VerifyOwnership(ctx, ownerID, videoID); err != nil {
		return err
	}

	if uploadID != "" {
		if err := svc.storage.AbortMultipartUpload(ctx, store.ObjectKey(ownerID, videoID), uploadID); err != nil {
			svc.logger.Warn("failed to abort multipart session while discarding draft", "video_id", videoID, "upload_id", uploadID, "error", err)
		}
	}

	err := svc.registry.Discard(ctx, videoID)
	if errors.Is(err, apperror.ErrVideoNotFound) {
		// already resolved
		return nil
	}
	return err
}
