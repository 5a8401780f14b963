package models

// Part is one accepted chunk of a multipart upload, as reported by the
// provider. Part numbers are 1-based.
type Part struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

// MultipartUpload identifies a provider-side upload session. The pair
// (key, uploadId) is the session's only identity; nothing is persisted here.
type MultipartUpload struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// CompletionResult is returned by the provider when a multipart upload is
// assembled into an object.
type CompletionResult struct {
	Location string `json:"location,omitempty"`
	Key      string `json:"key"`
}
