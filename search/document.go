package search

import "github.com/streamly/streamly-services-uploads/models"

// DocumentFromRecord flattens a finalized VideoRecord into its search
// projection. Timestamps are epoch milliseconds; relationship sets become
// plain arrays; nil sets become empty arrays so facets always exist.
func DocumentFromRecord(rec *models.VideoRecord) models.SearchDocument {
	title := rec.Title
	if title == "" {
		title = "Untitled Video"
	}

	return models.SearchDocument{
		ID:          rec.ID,
		Title:       title,
		Description: rec.Description,
		Duration:    rec.Duration,
		Format:      rec.Format,
		Visibility:  string(rec.Visibility),
		UserID:      rec.OwnerID,

		Types:     emptyIfNil(rec.Types),
		Audiences: emptyIfNil(rec.Audiences),
		Companies: emptyIfNil(rec.Companies),
		Topics:    emptyIfNil(rec.Topics),
		Tags:      emptyIfNil(rec.Tags),
		People:    emptyIfNil(rec.People),

		ThumbnailID: rec.ID,
		CreatedAt:   rec.CreatedAt.UnixMilli(),
		UpdatedAt:   rec.UpdatedAt.UnixMilli(),
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
