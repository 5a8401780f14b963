package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/caching"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
	"github.com/streamly/streamly-services-uploads/store"
)

// Ownership never changes during the upload lifecycle, so positive checks
// can be cached for the signing window.
const ownershipCacheTTL = time.Hour

// RegistryService is the draft video registry: lifecycle record creation and
// lookup, the single-active-draft guard, and the ownership authority.
type RegistryService interface {
	FindUnfinishedUpload(ctx context.Context, ownerID string) (*models.VideoRecord, error)
	CreateDraft(ctx context.Context, ownerID string) (*models.VideoRecord, error)
	VerifyOwnership(ctx context.Context, ownerID, videoID string) error
	GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error)
	Finalize(ctx context.Context, videoID string, meta models.FinalizeMetadata) (*models.VideoRecord, error)
	Discard(ctx context.Context, videoID string) error
}

type RegistryServiceImpl struct {
	videoStore store.VideoStore
	cachingSvc caching.CachingService

	logger logging.Logger
}

func NewRegistryServiceImpl(videoStore store.VideoStore, cachingSvc caching.CachingService, l logging.Logger) *RegistryServiceImpl {
	return &RegistryServiceImpl{
		videoStore: videoStore,
		cachingSvc: cachingSvc,
		logger:     l,
	}
}

func (svc *RegistryServiceImpl) FindUnfinishedUpload(ctx context.Context, ownerID string) (*models.VideoRecord, error) {
	return svc.videoStore.FindUnfinished(ctx, ownerID)
}

func (svc *RegistryServiceImpl) CreateDraft(ctx context.Context, ownerID string) (*models.VideoRecord, error) {
	return svc.videoStore.CreateDraft(ctx, ownerID)
}

// VerifyOwnership fails with the same ForbiddenError whether the video is
// missing or owned by someone else, so ids cannot be probed.
func (svc *RegistryServiceImpl) VerifyOwnership(ctx context.Context, ownerID, videoID string) error {
	cacheKey := ownershipCacheKey(ownerID, videoID)
	if _, err := svc.cachingSvc.Get(ctx, cacheKey); err == nil {
		return nil
	} else if !errors.Is(err, caching.ErrCacheMiss) {
		svc.logger.Warn("ownership cache read failed", "video_id", videoID, "error", err)
	}

	owned, err := svc.videoStore.VerifyOwnership(ctx, ownerID, videoID)
	if err != nil {
		return err
	}
	if !owned {
		return &apperror.ForbiddenError{}
	}

	if err := svc.cachingSvc.Set(ctx, cacheKey, "1", ownershipCacheTTL); err != nil {
		svc.logger.Warn("ownership cache write failed", "video_id", videoID, "error", err)
	}
	return nil
}

func (svc *RegistryServiceImpl) GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	return svc.videoStore.GetByID(ctx, videoID)
}

func (svc *RegistryServiceImpl) Finalize(ctx context.Context, videoID string, meta models.FinalizeMetadata) (*models.VideoRecord, error) {
	return svc.videoStore.Finalize(ctx, videoID, meta)
}

func (svc *RegistryServiceImpl) Discard(ctx context.Context, videoID string) error {
	return svc.videoStore.Discard(ctx, videoID)
}

func ownershipCacheKey(ownerID, videoID string) string {
	return fmt.Sprintf("video:owner:%s:%s", ownerID, videoID)
}
