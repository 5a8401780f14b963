package models

// SearchDocument is the denormalized projection of a finalized VideoRecord
// written to the search index. Field names follow the videos collection
// schema; timestamps are epoch milliseconds.
type SearchDocument struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	Format      string `json:"format"`
	Visibility  string `json:"visibility"`
	UserID      string `json:"user_id"`

	Types     []string `json:"types"`
	Audiences []string `json:"audiences"`
	Companies []string `json:"companies"`
	Topics    []string `json:"topics"`
	Tags      []string `json:"tags"`
	People    []string `json:"people"`

	ThumbnailID string `json:"thumbnail_id"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// SearchRepairEvent is the queue message for a failed search projection.
type SearchRepairEvent struct {
	VideoID string `json:"video_id"`
}
