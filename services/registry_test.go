package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/caching"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
)

type fakeVideoStore struct {
	records map[string]*models.VideoRecord

	ownershipCalls int
}

func (f *fakeVideoStore) FindUnfinished(ctx context.Context, ownerID string) (*models.VideoRecord, error) {
	for _, rec := range f.records {
		if rec.OwnerID == ownerID && rec.Visibility.Unfinished() {
			return rec, nil
		}
	}
	return nil, apperror.ErrVideoNotFound
}

func (f *fakeVideoStore) CreateDraft(ctx context.Context, ownerID string) (*models.VideoRecord, error) {
	return &models.VideoRecord{ID: "vid-new", OwnerID: ownerID, Visibility: models.VisibilityDraft}, nil
}

func (f *fakeVideoStore) VerifyOwnership(ctx context.Context, ownerID, videoID string) (bool, error) {
	f.ownershipCalls++
	rec, ok := f.records[videoID]
	return ok && rec.OwnerID == ownerID, nil
}

func (f *fakeVideoStore) GetByID(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	rec, ok := f.records[videoID]
	if !ok {
		return nil, apperror.ErrVideoNotFound
	}
	return rec, nil
}

func (f *fakeVideoStore) Finalize(ctx context.Context, videoID string, meta models.FinalizeMetadata) (*models.VideoRecord, error) {
	return f.records[videoID], nil
}

func (f *fakeVideoStore) Discard(ctx context.Context, videoID string) error { return nil }

func (f *fakeVideoStore) IsReady(ctx context.Context) error { return nil }
func (f *fakeVideoStore) Name() string                      { return "fake-videos" }

type memoryCache struct {
	values map[string]string
}

func (m *memoryCache) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", caching.ErrCacheMiss
	}
	return v, nil
}

func (m *memoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.values[key] = value
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func TestVerifyOwnershipCachesPositiveResult(t *testing.T) {
	st := &fakeVideoStore{records: map[string]*models.VideoRecord{
		"vid-1": {ID: "vid-1", OwnerID: "owner-1", Visibility: models.VisibilityDraft},
	}}
	cache := &memoryCache{values: map[string]string{}}
	svc := NewRegistryServiceImpl(st, cache, logging.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.VerifyOwnership(ctx, "owner-1", "vid-1"))
	require.NoError(t, svc.VerifyOwnership(ctx, "owner-1", "vid-1"))
	require.Equal(t, 1, st.ownershipCalls)
}

func TestVerifyOwnershipNeverCachesNegatives(t *testing.T) {
	st := &fakeVideoStore{records: map[string]*models.VideoRecord{
		"vid-1": {ID: "vid-1", OwnerID: "owner-1", Visibility: models.VisibilityDraft},
	}}
	cache := &memoryCache{values: map[string]string{}}
	svc := NewRegistryServiceImpl(st, cache, logging.NewNop())
	ctx := context.Background()

	var forbidden *apperror.ForbiddenError
	require.ErrorAs(t, svc.VerifyOwnership(ctx, "owner-2", "vid-1"), &forbidden)
	require.ErrorAs(t, svc.VerifyOwnership(ctx, "owner-2", "vid-missing"), &forbidden)
	require.Empty(t, cache.values)
	require.Equal(t, 2, st.ownershipCalls)
}

func TestVerifyOwnershipWorksWithoutCache(t *testing.T) {
	st := &fakeVideoStore{records: map[string]*models.VideoRecord{
		"vid-1": {ID: "vid-1", OwnerID: "owner-1", Visibility: models.VisibilityDraft},
	}}
	svc := NewRegistryServiceImpl(st, caching.NewNullCachingService(), logging.NewNop())

	require.NoError(t, svc.VerifyOwnership(context.Background(), "owner-1", "vid-1"))
}
