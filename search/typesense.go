package search

import (
	"context"
	"errors"
	"time"

	"github.com/typesense/typesense-go/v2/typesense"

	"github.com/streamly/streamly-services-uploads/health"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
)

// Index is the search engine surface: an idempotent upsert keyed by video id.
type Index interface {
	UpsertVideo(ctx context.Context, doc models.SearchDocument) error

	health.ReadinessCheck
}

type TypesenseIndexImpl struct {
	client     *typesense.Client
	collection string

	logger logging.Logger
}

func NewTypesenseIndexImpl(client *typesense.Client, collection string, l logging.Logger) *TypesenseIndexImpl {
	return &TypesenseIndexImpl{
		client:     client,
		collection: collection,
		logger:     l,
	}
}

func (t *TypesenseIndexImpl) IsReady(ctx context.Context) error {
	ok, err := t.client.Health(ctx, 2*time.Second)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("typesense not healthy")
	}
	return nil
}

func (t *TypesenseIndexImpl) Name() string {
	return "SearchIndex[" + t.collection + "]"
}

func (t *TypesenseIndexImpl) UpsertVideo(ctx context.Context, doc models.SearchDocument) error {
	_, err := t.client.Collection(t.collection).Documents().Upsert(ctx, doc)
	if err != nil {
		t.logger.Error("failed to upsert search document", "video_id", doc.ID, "error", err)
		return err
	}

	t.logger.Debug("search document upserted", "video_id", doc.ID)
	return nil
}
