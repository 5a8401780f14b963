package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/health"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
	"github.com/streamly/streamly-services-uploads/retries"
)

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err carries the Postgres duplicate-key
// SQLSTATE, which is how a lost draft-creation race surfaces.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

type VideoStore interface {
	FindUnfinished(ctx context.Context, ownerID string) (*models.VideoRecord, error)
	CreateDraft(ctx context.Context, ownerID string) (*models.VideoRecord, error)
	VerifyOwnership(ctx context.Context, ownerID, videoID string) (bool, error)
	GetByID(ctx context.Context, videoID string) (*models.VideoRecord, error)
	Finalize(ctx context.Context, videoID string, meta models.FinalizeMetadata) (*models.VideoRecord, error)
	Discard(ctx context.Context, videoID string) error

	health.ReadinessCheck
}

type GormVideoStoreImpl struct {
	db *gorm.DB

	logger logging.Logger
}

func NewGormVideoStoreImpl(db *gorm.DB, l logging.Logger) *GormVideoStoreImpl {
	return &GormVideoStoreImpl{db: db, logger: l}
}

// Migrate creates the videos table and the partial unique index backing the
// single-unfinished-draft invariant. The index, not application code, is
// what makes two racing draft creations impossible.
func (s *GormVideoStoreImpl) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.VideoRecord{}); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_videos_owner_unfinished
		 ON videos (owner_id)
		 WHERE visibility IN ('draft', 'inactive')`,
	).Error
}

func (s *GormVideoStoreImpl) IsReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	return retries.Retry(
		ctx,
		retries.HealthAttempts,
		retries.HealthBaseDelay,
		func() error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		retries.IsRetriableDbError,
	)
}

func (s *GormVideoStoreImpl) Name() string {
	return "VideoStore[videos]"
}

func (s *GormVideoStoreImpl) FindUnfinished(ctx context.Context, ownerID string) (*models.VideoRecord, error) {
	var rec models.VideoRecord

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			return s.db.WithContext(ctx).
				Where("owner_id = ? AND visibility IN ?", ownerID,
					[]models.Visibility{models.VisibilityDraft, models.VisibilityInactive}).
				First(&rec).Error
		},
		retries.IsRetriableDbError,
	)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrVideoNotFound
	}
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// CreateDraft inserts a zeroed draft row for the owner. The transactional
// check plus the partial unique index make check-then-create one logical
// operation: a concurrent create from the same owner loses with a unique
// violation, which is translated into the conflict carrying the winner's id.
func (s *GormVideoStoreImpl) CreateDraft(ctx context.Context, ownerID string) (*models.VideoRecord, error) {
	rec := models.VideoRecord{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Visibility: models.VisibilityDraft,
		Format:     "video/mp4",
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.VideoRecord
		err := tx.
			Where("owner_id = ? AND visibility IN ?", ownerID,
				[]models.Visibility{models.VisibilityDraft, models.VisibilityInactive}).
			First(&existing).Error
		if err == nil {
			return apperror.NewUnactivatedVideoError(existing.ID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.Create(&rec).Error
	})

	if err != nil {
		if isUniqueViolation(err) {
			// lost the race: surface the winning draft
			if existing, findErr := s.FindUnfinished(ctx, ownerID); findErr == nil {
				return nil, apperror.NewUnactivatedVideoError(existing.ID)
			}
			return nil, apperror.NewUnactivatedVideoError("")
		}
		return nil, err
	}

	s.logger.Info("draft video created", "video_id", rec.ID, "owner_id", ownerID)
	return &rec, nil
}

func (s *GormVideoStoreImpl) VerifyOwnership(ctx context.Context, ownerID, videoID string) (bool, error) {
	var count int64

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			return s.db.WithContext(ctx).
				Model(&models.VideoRecord{}).
				Where("id = ? AND owner_id = ?", videoID, ownerID).
				Count(&count).Error
		},
		retries.IsRetriableDbError,
	)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (s *GormVideoStoreImpl) GetByID(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	var rec models.VideoRecord

	err := s.db.WithContext(ctx).First(&rec, "id = ?", videoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrVideoNotFound
	}
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// Finalize applies completion metadata and moves the record out of draft.
// Calling it again with identical metadata is a no-op; divergent metadata on
// an already finalized record is rejected without touching the first result.
func (s *GormVideoStoreImpl) Finalize(ctx context.Context, videoID string, meta models.FinalizeMetadata) (*models.VideoRecord, error) {
	var out *models.VideoRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.VideoRecord
		if err := tx.First(&rec, "id = ?", videoID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.ErrVideoNotFound
			}
			return err
		}

		if !rec.Visibility.Unfinished() {
			if meta.Matches(&rec) {
				out = &rec
				return nil
			}
			return &apperror.ConflictError{VideoID: rec.ID, Code: apperror.CodeAlreadyFinalized}
		}

		updates := map[string]any{
			"width":      meta.Width,
			"height":     meta.Height,
			"duration":   meta.Duration,
			"file_size":  meta.Size,
			"visibility": models.VisibilityUnlisted,
		}
		if meta.Format != "" {
			updates["format"] = meta.Format
		}
		if meta.Title != "" {
			updates["title"] = meta.Title
		}

		if err := tx.Model(&rec).Updates(updates).Error; err != nil {
			return err
		}

		out = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("video finalized", "video_id", out.ID, "duration", out.Duration, "size", out.FileSize)
	return out, nil
}

// Discard soft-releases an abandoned draft so it stops blocking new uploads.
// Rows are never hard-deleted here.
func (s *GormVideoStoreImpl) Discard(ctx context.Context, videoID string) error {
	res := s.db.WithContext(ctx).
		Model(&models.VideoRecord{}).
		Where("id = ? AND visibility IN ?", videoID,
			[]models.Visibility{models.VisibilityDraft, models.VisibilityInactive}).
		Update("visibility", models.VisibilityDiscarded)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.ErrVideoNotFound
	}

	s.logger.Info("draft video discarded", "video_id", videoID)
	return nil
}
