package store

import "fmt"

// ObjectKey derives the storage key for a video deterministically from its
// owner and id. Keys are never reused across videos, and embedding the owner
// makes a guessed id useless across users.
func ObjectKey(ownerID, videoID string) string {
	return fmt.Sprintf("videos/%s/%s.mp4", ownerID, videoID)
}
