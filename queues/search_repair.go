package queues

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
	"github.com/streamly/streamly-services-uploads/search"
	"github.com/streamly/streamly-services-uploads/store"
)

// sqsAPI is the slice of the SQS client the repair queue uses (for mocking
// in tests).
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SearchRepairQueue carries video ids whose search projection failed at
// completion time. The receiver re-reads the canonical record and re-applies
// the upsert, so a SyncError never loses the document.
type SearchRepairQueue interface {
	EnqueueRepair(ctx context.Context, videoID string) error
	Start()
	Stop()
}

type SearchRepairQueueImpl struct {
	client     sqsAPI
	videoStore store.VideoStore
	index      search.Index
	queueUrl   string

	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSearchRepairQueueImpl(
	parent context.Context,
	client sqsAPI,
	videoStore store.VideoStore,
	index search.Index,
	queueUrl string,
	l logging.Logger,
) *SearchRepairQueueImpl {
	ctx, cancel := context.WithCancel(parent)

	return &SearchRepairQueueImpl{
		client:     client,
		videoStore: videoStore,
		index:      index,
		queueUrl:   queueUrl,
		logger:     l,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (q *SearchRepairQueueImpl) EnqueueRepair(ctx context.Context, videoID string) error {
	body, err := json.Marshal(models.SearchRepairEvent{VideoID: videoID})
	if err != nil {
		return err
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueUrl),
		MessageBody: aws.String(string(body)),
	})
	return err
}

func (q *SearchRepairQueueImpl) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		_ = q.pollLoop()
	}()
}

func (q *SearchRepairQueueImpl) Stop() {
	q.cancel()
	q.wg.Wait()
}

func (q *SearchRepairQueueImpl) pollLoop() error {
	for {
		select {
		case <-q.ctx.Done():
			return q.ctx.Err()
		default:
		}

		out, err := q.client.ReceiveMessage(q.ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueUrl),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20, // long poll
			VisibilityTimeout:   30,
		})
		if err != nil {
			if q.ctx.Err() != nil {
				return q.ctx.Err()
			}
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range out.Messages {
			q.handleMessage(q.ctx, msg)
		}
	}
}

func (q *SearchRepairQueueImpl) deleteMessage(ctx context.Context, msg types.Message) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueUrl),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		q.logger.Error("failed to delete repair message", "error", err)
	}
}

func (q *SearchRepairQueueImpl) handleMessage(ctx context.Context, msg types.Message) {
	if msg.Body == nil {
		q.deleteMessage(ctx, msg)
		return
	}

	var evt models.SearchRepairEvent
	if err := json.Unmarshal([]byte(*msg.Body), &evt); err != nil {
		// poison message
		q.logger.Warn("dropping malformed repair message", "error", err)
		q.deleteMessage(ctx, msg)
		return
	}

	rec, err := q.videoStore.GetByID(ctx, evt.VideoID)
	if errors.Is(err, apperror.ErrVideoNotFound) {
		q.logger.Warn("repair target no longer exists", "video_id", evt.VideoID)
		q.deleteMessage(ctx, msg)
		return
	}
	if err != nil {
		return // redelivered after visibility timeout
	}

	// never index an unfinished record
	if rec.Visibility.Unfinished() || rec.Duration == 0 {
		q.logger.Warn("repair target not finalized, dropping", "video_id", evt.VideoID)
		q.deleteMessage(ctx, msg)
		return
	}

	if err := q.index.UpsertVideo(ctx, search.DocumentFromRecord(rec)); err != nil {
		q.logger.Error("search repair upsert failed", "video_id", evt.VideoID, "error", err)
		return // retry on redelivery
	}

	q.logger.Info("search document repaired", "video_id", evt.VideoID)
	q.deleteMessage(ctx, msg)
}
