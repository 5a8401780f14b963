package services

import (
	"context"
	"fmt"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
	"github.com/streamly/streamly-services-uploads/search"
)

// RepairEnqueuer accepts a video id whose search projection failed and needs
// to be re-applied later.
type RepairEnqueuer interface {
	EnqueueRepair(ctx context.Context, videoID string) error
}

// SyncService projects finalized video records into the search index. A
// failed projection is a soft outcome: the record and object are already
// durable, so the document is queued for repair instead of failing the
// upload.
type SyncService interface {
	ProjectVideo(ctx context.Context, rec *models.VideoRecord) error
}

type SyncServiceImpl struct {
	index  search.Index
	repair RepairEnqueuer

	logger logging.Logger
}

func NewSyncServiceImpl(index search.Index, repair RepairEnqueuer, l logging.Logger) *SyncServiceImpl {
	return &SyncServiceImpl{
		index:  index,
		repair: repair,
		logger: l,
	}
}

func (svc *SyncServiceImpl) ProjectVideo(ctx context.Context, rec *models.VideoRecord) error {
	// A search document must never exist for an unfinished record.
	if rec.Visibility.Unfinished() || rec.Duration == 0 {
		return fmt.Errorf("video %s is not finalized, refusing to project", rec.ID)
	}

	doc := search.DocumentFromRecord(rec)
	if err := svc.index.UpsertVideo(ctx, doc); err != nil {
		svc.logger.Warn("search projection failed, queueing repair", "video_id", rec.ID, "error", err)

		if svc.repair != nil {
			if enqErr := svc.repair.EnqueueRepair(ctx, rec.ID); enqErr != nil {
				svc.logger.Error("failed to enqueue search repair", "video_id", rec.ID, "error", enqErr)
			}
		}
		return &apperror.SyncError{VideoID: rec.ID, Err: err}
	}

	svc.logger.Info("video projected to search index", "video_id", rec.ID)
	return nil
}
