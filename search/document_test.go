package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/streamly/streamly-services-uploads/models"
)

func TestDocumentFromRecord(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := &models.VideoRecord{
		ID:          "vid-1",
		OwnerID:     "owner-1",
		Title:       "Launch Recap",
		Description: "quarterly launch recap",
		Visibility:  models.VisibilityUnlisted,
		Format:      "video/mp4",
		Duration:    183,
		Topics:      datatypes.JSONSlice[string]{"launch", "product"},
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Hour),
	}

	doc := DocumentFromRecord(rec)

	require.Equal(t, "vid-1", doc.ID)
	require.Equal(t, "Launch Recap", doc.Title)
	require.Equal(t, "owner-1", doc.UserID)
	require.Equal(t, "unlisted", doc.Visibility)
	require.Equal(t, 183, doc.Duration)
	require.Equal(t, []string{"launch", "product"}, doc.Topics)
	require.Equal(t, created.UnixMilli(), doc.CreatedAt)
	require.Equal(t, created.Add(time.Hour).UnixMilli(), doc.UpdatedAt)

	// thumbnail id mirrors the video id
	require.Equal(t, "vid-1", doc.ThumbnailID)
}

func TestDocumentFromRecordDefaults(t *testing.T) {
	doc := DocumentFromRecord(&models.VideoRecord{
		ID:         "vid-2",
		OwnerID:    "owner-1",
		Visibility: models.VisibilityUnlisted,
		Duration:   90,
	})

	require.Equal(t, "Untitled Video", doc.Title)

	// nil relationship sets become empty arrays so facets always exist
	require.NotNil(t, doc.Types)
	require.Empty(t, doc.Types)
	require.NotNil(t, doc.Tags)
	require.Empty(t, doc.People)
}
