package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
)

// TokenSource supplies a fresh bearer credential per request.
type TokenSource func(ctx context.Context) (string, error)

// Client talks to the upload session endpoint. One instance per service; it
// holds no per-upload state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource

	logger logging.Logger
}

func NewClient(baseURL string, token TokenSource, l logging.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		logger:     l,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details struct {
		VideoID string `json:"videoId"`
	} `json:"details"`
}

type completeUploadResponse struct {
	Success bool   `json:"success"`
	VideoID string `json:"videoId"`
	Warning string `json:"warning"`
}

func (c *Client) CreateDraftVideo(ctx context.Context) (string, error) {
	var out struct {
		VideoID string `json:"videoId"`
	}
	err := c.post(ctx, map[string]any{"type": "createDraftVideo"}, &out)
	if err != nil {
		return "", err
	}
	return out.VideoID, nil
}

func (c *Client) GetUploadParameters(ctx context.Context, videoID, contentType string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := c.post(ctx, map[string]any{
		"type":        "getUploadParameters",
		"videoId":     videoID,
		"contentType": contentType,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) CreateMultipartUpload(ctx context.Context, videoID, contentType string) (*models.MultipartUpload, error) {
	var out models.MultipartUpload
	err := c.post(ctx, map[string]any{
		"type":        "createMultipartUpload",
		"videoId":     videoID,
		"contentType": contentType,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SignPart(ctx context.Context, videoID, uploadID string, partNumber int32) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	query := url.Values{
		"type":       {"signPart"},
		"videoId":    {videoID},
		"uploadId":   {uploadID},
		"partNumber": {fmt.Sprintf("%d", partNumber)},
	}
	if err := c.get(ctx, query, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) ListParts(ctx context.Context, videoID, uploadID string) ([]models.Part, error) {
	var out struct {
		Parts []models.Part `json:"parts"`
	}
	query := url.Values{
		"type":     {"listParts"},
		"videoId":  {videoID},
		"uploadId": {uploadID},
	}
	if err := c.get(ctx, query, &out); err != nil {
		return nil, err
	}
	return out.Parts, nil
}

func (c *Client) CompleteMultipartUpload(ctx context.Context, videoID, uploadID string, parts []models.Part) (*models.CompletionResult, error) {
	var out models.CompletionResult
	err := c.post(ctx, map[string]any{
		"type":     "completeMultipartUpload",
		"videoId":  videoID,
		"uploadId": uploadID,
		"parts":    parts,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AbortMultipartUpload(ctx context.Context, videoID, uploadID string) error {
	return c.post(ctx, map[string]any{
		"type":     "abortMultipartUpload",
		"videoId":  videoID,
		"uploadId": uploadID,
	}, nil)
}

// CompleteUpload reports the client-measured metadata. The returned flag is
// true when the server committed the upload but flagged a search sync
// warning.
func (c *Client) CompleteUpload(ctx context.Context, videoID string, meta models.FinalizeMetadata) (bool, error) {
	var out completeUploadResponse
	err := c.post(ctx, map[string]any{
		"type":     "completeUpload",
		"videoId":  videoID,
		"width":    meta.Width,
		"height":   meta.Height,
		"size":     meta.Size,
		"duration": meta.Duration,
		"format":   meta.Format,
		"title":    meta.Title,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Warning != "", nil
}

func (c *Client) DiscardDraft(ctx context.Context, videoID, uploadID string) error {
	return c.post(ctx, map[string]any{
		"type":     "discardDraft",
		"videoId":  videoID,
		"uploadId": uploadID,
	}, nil)
}

// PutBytes uploads a block to a presigned URL and returns the provider etag.
func (c *Client) PutBytes(ctx context.Context, signedURL, contentType string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.ContentLength = int64(len(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("part upload rejected with status %d", resp.StatusCode)
	}

	return resp.Header.Get("ETag"), nil
}

// PutFile streams a whole file to a presigned URL (single-shot path).
func (c *Client) PutFile(ctx context.Context, signedURL, contentType string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, r)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/videos/upload", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/videos/upload?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	token, err := c.token(req.Context())
	if err != nil {
		return fmt.Errorf("failed to acquire token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError rebuilds the server's error taxonomy from a wire response so
// callers can branch on conflict (resume required) versus everything else.
func decodeError(resp *http.Response) error {
	var wire errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	switch wire.Code {
	case apperror.CodeUnauthorized:
		return &apperror.AuthError{Reason: wire.Error}
	case apperror.CodeForbidden:
		return &apperror.ForbiddenError{}
	case apperror.CodeUnactivatedVideo, apperror.CodeAlreadyFinalized:
		return &apperror.ConflictError{VideoID: wire.Details.VideoID, Code: wire.Code}
	case apperror.CodeInvalidRequest:
		return &apperror.ValidationError{Message: wire.Error}
	default:
		return fmt.Errorf("%s (status %d)", wire.Error, resp.StatusCode)
	}
}
