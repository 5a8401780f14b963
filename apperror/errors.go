package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes carried on wire responses.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeUnactivatedVideo = "UNACTIVATED_VIDEO"
	CodeAlreadyFinalized = "ALREADY_FINALIZED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeStorageFailure   = "STORAGE_FAILURE"
	CodeSyncFailure      = "SYNC_FAILURE"
)

// ErrVideoNotFound is the store-level sentinel for a missing video row.
// It is never surfaced directly: ownership checks translate it into the
// same ForbiddenError a foreign-owned video produces.
var ErrVideoNotFound = errors.New("video not found")

// AuthError: the caller identity could not be established.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ForbiddenError: authenticated, but the video is not theirs (or does not
// exist — the two cases are deliberately indistinguishable).
type ForbiddenError struct{}

func (e *ForbiddenError) Error() string {
	return "video not found or access denied"
}

// ConflictError: an unfinished upload already exists for this owner, or a
// finalized record was re-finalized with divergent metadata. VideoID carries
// the conflicting record so clients can redirect to resume it.
type ConflictError struct {
	VideoID string
	Code    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting video %s", e.VideoID)
}

func NewUnactivatedVideoError(videoID string) *ConflictError {
	return &ConflictError{VideoID: videoID, Code: CodeUnactivatedVideo}
}

// ValidationError: malformed request shape.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StorageError: the object storage provider rejected an operation. The
// wrapped provider error is logged server-side, never leaked to clients.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SyncError: the search index upsert failed after the upload was already
// durably committed. Soft outcome, never rolls back the upload.
type SyncError struct {
	VideoID string
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("search sync failed for video %s: %v", e.VideoID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// HTTPStatus maps an error to the response status for the upload endpoint.
func HTTPStatus(err error) int {
	var (
		authErr       *AuthError
		forbiddenErr  *ForbiddenError
		conflictErr   *ConflictError
		validationErr *ValidationError
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &forbiddenErr):
		return http.StatusForbidden
	case errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the wire code for an error.
func CodeOf(err error) string {
	var (
		authErr       *AuthError
		forbiddenErr  *ForbiddenError
		conflictErr   *ConflictError
		validationErr *ValidationError
		syncErr       *SyncError
	)
	switch {
	case errors.As(err, &authErr):
		return CodeUnauthorized
	case errors.As(err, &forbiddenErr):
		return CodeForbidden
	case errors.As(err, &conflictErr):
		if conflictErr.Code != "" {
			return conflictErr.Code
		}
		return CodeUnactivatedVideo
	case errors.As(err, &validationErr):
		return CodeInvalidRequest
	case errors.As(err, &syncErr):
		return CodeSyncFailure
	default:
		return CodeStorageFailure
	}
}
