package handlers

import (
	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/models"
)

// Operation is the tagged request variant for the upload endpoint. Adding an
// operation means adding a constant here and a case to the dispatch switch;
// the compiler and the parse test keep the two in sync.
type Operation string

const (
	OpCreateDraftVideo        Operation = "createDraftVideo"
	OpGetUploadParameters     Operation = "getUploadParameters"
	OpCreateMultipartUpload   Operation = "createMultipartUpload"
	OpListParts               Operation = "listParts"
	OpSignPart                Operation = "signPart"
	OpCompleteMultipartUpload Operation = "completeMultipartUpload"
	OpAbortMultipartUpload    Operation = "abortMultipartUpload"
	OpCompleteUpload          Operation = "completeUpload"
	OpDiscardDraft            Operation = "discardDraft"
)

// ParseOperation validates a wire operation type.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	switch op {
	case OpCreateDraftVideo,
		OpGetUploadParameters,
		OpCreateMultipartUpload,
		OpListParts,
		OpSignPart,
		OpCompleteMultipartUpload,
		OpAbortMultipartUpload,
		OpCompleteUpload,
		OpDiscardDraft:
		return op, nil
	}
	return "", apperror.NewValidationError("invalid operation type %q", s)
}

// Mutating reports whether the operation must arrive as a POST.
func (op Operation) Mutating() bool {
	switch op {
	case OpListParts, OpSignPart:
		return false
	}
	return true
}

// uploadRequest is the union payload of all POST operations; each case of
// the dispatch reads only its own fields after requiring them.
type uploadRequest struct {
	Type        string        `json:"type"`
	VideoID     string        `json:"videoId"`
	ContentType string        `json:"contentType"`
	UploadID    string        `json:"uploadId"`
	Parts       []models.Part `json:"parts"`

	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Size     int64  `json:"size"`
	Duration int    `json:"duration"`
	Format   string `json:"format"`
	Title    string `json:"title"`
}
