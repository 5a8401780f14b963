package models

import (
	"time"

	"gorm.io/datatypes"
)

// Visibility is the lifecycle state of a video record.
type Visibility string

const (
	VisibilityDraft     Visibility = "draft"
	VisibilityInactive  Visibility = "inactive"
	VisibilityUnlisted  Visibility = "unlisted"
	VisibilityPublic    Visibility = "public"
	VisibilityDiscarded Visibility = "discarded"
)

// Unfinished reports whether a record still blocks new uploads by its owner.
func (v Visibility) Unfinished() bool {
	return v == VisibilityDraft || v == VisibilityInactive
}

// VideoRecord is the canonical video row. Exactly one unfinished record may
// exist per owner at any time; a partial unique index on
// (owner_id) WHERE visibility IN ('draft','inactive') enforces it.
type VideoRecord struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	OwnerID string `gorm:"column:owner_id;size:64;not null;index" json:"ownerId"`

	Title       string     `gorm:"size:255" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Visibility  Visibility `gorm:"size:16;not null;default:'draft'" json:"visibility"`
	Format      string     `gorm:"size:64" json:"format"`

	Duration int   `json:"duration"` // seconds
	Width    int   `json:"width"`
	Height   int   `json:"height"`
	FileSize int64 `gorm:"column:file_size" json:"fileSize"`

	Types     datatypes.JSONSlice[string] `json:"types"`
	Topics    datatypes.JSONSlice[string] `json:"topics"`
	Tags      datatypes.JSONSlice[string] `json:"tags"`
	Companies datatypes.JSONSlice[string] `json:"companies"`
	People    datatypes.JSONSlice[string] `json:"people"`
	Audiences datatypes.JSONSlice[string] `json:"audiences"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (VideoRecord) TableName() string {
	return "videos"
}

// FinalizeMetadata is the client-measured metadata applied when an upload
// completes. Only the client can observe duration and dimensions.
type FinalizeMetadata struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Duration int    `json:"duration"`
	Size     int64  `json:"size"`
	Format   string `json:"format"`
	Title    string `json:"title,omitempty"`
}

// Matches reports whether a finalized record already carries this metadata,
// which makes a repeated finalize call a no-op.
func (m FinalizeMetadata) Matches(rec *VideoRecord) bool {
	return rec.Width == m.Width &&
		rec.Height == m.Height &&
		rec.Duration == m.Duration &&
		rec.FileSize == m.Size &&
		(m.Format == "" || rec.Format == m.Format)
}
