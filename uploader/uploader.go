package uploader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/models"
)

const (
	defaultConcurrency = 4
	maxConcurrency     = 5
	partAttempts       = 2
)

// Uploader drives a local file through the whole pipeline: probe, draft
// registration, chunked transfer, completion. Each instance carries its own
// state store, so independent uploads never share progress.
type Uploader struct {
	api         *Client
	probe       Probe
	states      StateStore
	partSize    int64
	threshold   int64
	concurrency int
	logger      logging.Logger
}

type Option func(*Uploader)

func WithPartSize(size int64) Option {
	return func(u *Uploader) { u.partSize = size }
}

func WithMultipartThreshold(size int64) Option {
	return func(u *Uploader) { u.threshold = size }
}

func WithConcurrency(n int) Option {
	return func(u *Uploader) { u.concurrency = n }
}

func WithProbe(p Probe) Option {
	return func(u *Uploader) { u.probe = p }
}

func New(api *Client, states StateStore, l logging.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		api:         api,
		probe:       NewFFprobeImpl(),
		states:      states,
		partSize:    DefaultPartSize,
		threshold:   MultipartThreshold,
		concurrency: defaultConcurrency,
		logger:      l,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.concurrency < 1 {
		u.concurrency = 1
	}
	if u.concurrency > maxConcurrency {
		u.concurrency = maxConcurrency
	}
	return u
}

// Result is the outcome of a finished upload. Warning is set when the
// server committed the video but could not sync it to search yet.
type Result struct {
	VideoID  string
	Key      string
	Location string
	Warning  bool
}

// Upload validates the file, registers (or resumes) a draft and transfers
// the content. A conflict error from draft registration carries the blocking
// draft's id; the caller decides whether to resume or discard it.
func (u *Uploader) Upload(ctx context.Context, path, title string) (*Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	info, err := u.probe.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateVideo(info, fi.Size()); err != nil {
		return nil, err
	}

	fingerprint, err := Fingerprint(path)
	if err != nil {
		return nil, err
	}

	state, err := u.states.Load(fingerprint)
	if err != nil && err != ErrStateNotFound {
		return nil, err
	}

	if state == nil {
		videoID, err := u.api.CreateDraftVideo(ctx)
		if err != nil {
			return nil, err
		}
		state = &ResumeState{
			Fingerprint: fingerprint,
			VideoID:     videoID,
			PartSize:    u.partSize,
			Parts:       map[int32]string{},
		}
		if err := u.states.Save(state); err != nil {
			return nil, err
		}
		u.logger.Info("registered draft video", "videoId", videoID)
	} else {
		u.logger.Info("resuming upload", "videoId", state.VideoID, "acceptedParts", len(state.Parts))
	}

	meta := models.FinalizeMetadata{
		Width:    info.Width,
		Height:   info.Height,
		Duration: int(math.Round(info.Duration)),
		Size:     fi.Size(),
		Format:   "video/mp4",
		Title:    title,
	}

	if fi.Size() < u.threshold {
		return u.uploadSingle(ctx, path, fi.Size(), state, meta)
	}
	return u.uploadMultipart(ctx, path, fi.Size(), state, meta)
}

// Abort tears down an interrupted upload: the provider-side multipart
// upload is aborted and the local resume state removed. The draft video
// itself is discarded on the server.
func (u *Uploader) Abort(ctx context.Context, path string) error {
	fingerprint, err := Fingerprint(path)
	if err != nil {
		return err
	}

	state, err := u.states.Load(fingerprint)
	if err == ErrStateNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if err := u.api.DiscardDraft(ctx, state.VideoID, state.UploadID); err != nil {
		return err
	}
	return u.states.Clear(fingerprint)
}

func (u *Uploader) uploadSingle(ctx context.Context, path string, size int64, state *ResumeState, meta models.FinalizeMetadata) (*Result, error) {
	signedURL, err := u.api.GetUploadParameters(ctx, state.VideoID, meta.Format)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := u.api.PutFile(ctx, signedURL, meta.Format, f, size); err != nil {
		return nil, fmt.Errorf("failed to upload object: %w", err)
	}

	warning, err := u.api.CompleteUpload(ctx, state.VideoID, meta)
	if err != nil {
		return nil, err
	}

	if err := u.states.Clear(state.Fingerprint); err != nil {
		u.logger.Warn("failed to clear resume state", "error", err)
	}
	return &Result{VideoID: state.VideoID, Warning: warning}, nil
}

func (u *Uploader) uploadMultipart(ctx context.Context, path string, size int64, state *ResumeState, meta models.FinalizeMetadata) (*Result, error) {
	if state.UploadID == "" {
		mp, err := u.api.CreateMultipartUpload(ctx, state.VideoID, meta.Format)
		if err != nil {
			return nil, err
		}
		state.UploadID = mp.UploadID
		state.Key = mp.Key
		if err := u.states.Save(state); err != nil {
			return nil, err
		}
	} else {
		// The provider is the source of truth for accepted parts; local
		// state may be behind or ahead after a crash.
		accepted, err := u.api.ListParts(ctx, state.VideoID, state.UploadID)
		if err != nil {
			return nil, err
		}
		state.Parts = map[int32]string{}
		for _, p := range accepted {
			state.Parts[p.PartNumber] = p.ETag
		}
		if err := u.states.Save(state); err != nil {
			return nil, err
		}
	}

	plan := BuildChunkPlan(size, state.PartSize)
	pending := make([]Chunk, 0, len(plan))
	for _, c := range plan {
		if _, ok := state.Parts[c.Number]; !ok {
			pending = append(pending, c)
		}
	}

	if len(pending) > 0 {
		if err := u.transferChunks(ctx, path, state, meta.Format, pending); err != nil {
			// Transfer failures keep state on disk so a later run resumes.
			return nil, err
		}
	}

	parts := make([]models.Part, 0, len(state.Parts))
	for number, etag := range state.Parts {
		parts = append(parts, models.Part{PartNumber: number, ETag: etag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	result, err := u.api.CompleteMultipartUpload(ctx, state.VideoID, state.UploadID, parts)
	if err != nil {
		u.logger.Error("multipart completion failed, aborting upload", "videoId", state.VideoID, "error", err)
		if abortErr := u.api.AbortMultipartUpload(ctx, state.VideoID, state.UploadID); abortErr != nil {
			u.logger.Warn("failed to abort multipart upload", "videoId", state.VideoID, "error", abortErr)
		}
		if clearErr := u.states.Clear(state.Fingerprint); clearErr != nil {
			u.logger.Warn("failed to clear resume state", "error", clearErr)
		}
		return nil, err
	}

	warning, err := u.api.CompleteUpload(ctx, state.VideoID, meta)
	if err != nil {
		return nil, err
	}

	if err := u.states.Clear(state.Fingerprint); err != nil {
		u.logger.Warn("failed to clear resume state", "error", err)
	}
	return &Result{
		VideoID:  state.VideoID,
		Key:      result.Key,
		Location: result.Location,
		Warning:  warning,
	}, nil
}

// transferChunks pushes the pending chunks through a bounded worker pool,
// persisting progress after every accepted part.
func (u *Uploader) transferChunks(ctx context.Context, path string, state *ResumeState, contentType string, pending []Chunk) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Chunk)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for i := 0; i < u.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				etag, err := u.uploadChunk(ctx, f, state, contentType, chunk)
				if err != nil {
					fail(fmt.Errorf("part %d failed: %w", chunk.Number, err))
					return
				}

				mu.Lock()
				state.Parts[chunk.Number] = etag
				saveErr := u.states.Save(state)
				mu.Unlock()
				if saveErr != nil {
					fail(saveErr)
					return
				}
			}
		}()
	}

dispatch:
	for _, chunk := range pending {
		select {
		case jobs <- chunk:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (u *Uploader) uploadChunk(ctx context.Context, f *os.File, state *ResumeState, contentType string, chunk Chunk) (string, error) {
	buf := make([]byte, chunk.Length)
	if _, err := f.ReadAt(buf, chunk.Offset); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < partAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		// A fresh URL every attempt so a stall past the signature window
		// cannot wedge the retry.
		signedURL, err := u.api.SignPart(ctx, state.VideoID, state.UploadID, chunk.Number)
		if err != nil {
			return "", err
		}

		etag, err := u.api.PutBytes(ctx, signedURL, contentType, buf)
		if err == nil {
			return etag, nil
		}
		lastErr = err
		u.logger.Warn("part upload attempt failed", "part", chunk.Number, "attempt", attempt+1, "error", err)
	}
	return "", lastErr
}

// IsDraftConflict reports whether err is the blocked-registration conflict
// and returns the id of the draft that holds the slot.
func IsDraftConflict(err error) (string, bool) {
	var conflict *apperror.ConflictError
	if errors.As(err, &conflict) && conflict.Code == apperror.CodeUnactivatedVideo {
		return conflict.VideoID, true
	}
	return "", false
}
