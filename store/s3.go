package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/health"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
	"github.com/streamly/streamly-services-uploads/retries"
)

// ObjectStorage issues capabilities against the videos bucket: time-limited
// signed URLs plus the multipart session lifecycle. No object bytes flow
// through this service; clients talk to the provider directly.
type ObjectStorage interface {
	SignSingleUpload(ctx context.Context, key, contentType string) (string, error)
	CreateMultipartUpload(ctx context.Context, key, contentType string) (*models.MultipartUpload, error)
	SignPartUpload(ctx context.Context, key, uploadID string, partNumber int32) (string, error)
	ListParts(ctx context.Context, key, uploadID string) ([]models.Part, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []models.Part) (*models.CompletionResult, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	health.ReadinessCheck
}

type S3ObjectStorageImpl struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucketName string
	signTTL    time.Duration

	logger logging.Logger
}

func NewS3ObjectStorageImpl(client *s3.Client, bucketName string, signTTL time.Duration, l logging.Logger) *S3ObjectStorageImpl {
	return &S3ObjectStorageImpl{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucketName: bucketName,
		signTTL:    signTTL,
		logger:     l,
	}
}

func (s *S3ObjectStorageImpl) IsReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	return retries.Retry(
		ctx,
		retries.HealthAttempts,
		retries.HealthBaseDelay,
		func() error {
			_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
				Bucket: aws.String(s.bucketName),
			})
			return err
		},
		retries.IsRetriableStorageError,
	)
}

func (s *S3ObjectStorageImpl) Name() string {
	return fmt.Sprintf("ObjectStorage[%s]", s.bucketName)
}

func (s *S3ObjectStorageImpl) SignSingleUpload(ctx context.Context, key, contentType string) (string, error) {
	presigned, err := s.presigner.PresignPutObject(
		ctx,
		&s3.PutObjectInput{
			Bucket:      aws.String(s.bucketName),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		},
		s3.WithPresignExpires(s.signTTL),
	)
	if err != nil {
		s.logger.Error("failed to presign single upload", "key", key, "error", err)
		return "", &apperror.StorageError{Op: "SignSingleUpload", Err: err}
	}

	return presigned.URL, nil
}

func (s *S3ObjectStorageImpl) CreateMultipartUpload(ctx context.Context, key, contentType string) (*models.MultipartUpload, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		s.logger.Error("failed to create multipart upload", "key", key, "error", err)
		return nil, &apperror.StorageError{Op: "CreateMultipartUpload", Err: err}
	}
	if out.UploadId == nil {
		return nil, &apperror.StorageError{Op: "CreateMultipartUpload", Err: errors.New("no upload id returned")}
	}

	s.logger.Debug("created multipart upload", "key", key, "upload_id", *out.UploadId)
	return &models.MultipartUpload{UploadID: *out.UploadId, Key: key}, nil
}

func (s *S3ObjectStorageImpl) SignPartUpload(ctx context.Context, key, uploadID string, partNumber int32) (string, error) {
	presigned, err := s.presigner.PresignUploadPart(
		ctx,
		&s3.UploadPartInput{
			Bucket:     aws.String(s.bucketName),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNumber),
		},
		s3.WithPresignExpires(s.signTTL),
	)
	if err != nil {
		s.logger.Error("failed to presign part upload", "key", key, "upload_id", uploadID, "part_number", partNumber, "error", err)
		return "", &apperror.StorageError{Op: "SignPartUpload", Err: err}
	}

	return presigned.URL, nil
}

// ListParts re-queries the provider for the accepted part set. This is the
// resume source of truth: the service keeps no session state of its own.
func (s *S3ObjectStorageImpl) ListParts(ctx context.Context, key, uploadID string) ([]models.Part, error) {
	var parts []models.Part

	err := retries.Retry(
		ctx,
		retries.DefaultAttempts,
		retries.DefaultBaseDelay,
		func() error {
			parts = parts[:0]

			paginator := s3.NewListPartsPaginator(s.client, &s3.ListPartsInput{
				Bucket:   aws.String(s.bucketName),
				Key:      aws.String(key),
				UploadId: aws.String(uploadID),
			})
			for paginator.HasMorePages() {
				page, err := paginator.NextPage(ctx)
				if err != nil {
					return err
				}
				for _, p := range page.Parts {
					if p.PartNumber == nil || p.ETag == nil {
						continue
					}
					parts = append(parts, models.Part{
						PartNumber: *p.PartNumber,
						ETag:       *p.ETag,
					})
				}
			}
			return nil
		},
		retries.IsRetriableStorageError,
	)
	if err != nil {
		s.logger.Error("failed to list parts", "key", key, "upload_id", uploadID, "error", err)
		return nil, &apperror.StorageError{Op: "ListParts", Err: err}
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

// CompleteMultipartUpload assembles the object from the full ordered part
// set. Never retried here: a partial completion must not be repeated without
// the client re-verifying part state first.
func (s *S3ObjectStorageImpl) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []models.Part) (*models.CompletionResult, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		}
	}

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucketName),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		s.logger.Error("failed to complete multipart upload", "key", key, "upload_id", uploadID, "parts", len(parts), "error", err)
		return nil, &apperror.StorageError{Op: "CompleteMultipartUpload", Err: err}
	}

	s.logger.Info("completed multipart upload", "key", key, "upload_id", uploadID, "parts", len(parts))

	result := &models.CompletionResult{Key: key}
	if out.Location != nil {
		result.Location = *out.Location
	}
	return result, nil
}

func (s *S3ObjectStorageImpl) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucketName),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		s.logger.Error("failed to abort multipart upload", "key", key, "upload_id", uploadID, "error", err)
		return &apperror.StorageError{Op: "AbortMultipartUpload", Err: err}
	}

	s.logger.Info("aborted multipart upload", "key", key, "upload_id", uploadID)
	return nil
}
