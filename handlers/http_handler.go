package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/streamly/streamly-services-uploads/apperror"
	"github.com/streamly/streamly-services-uploads/auth"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/metrics"
	"github.com/streamly/streamly-services-uploads/models"
	"github.com/streamly/streamly-services-uploads/services"
)

const identityKey = "identity"

// HTTPHandler exposes the upload session controller as a single endpoint
// dispatching on the operation type: GET for reads, POST for mutations.
type HTTPHandler struct {
	uploads  services.UploadService
	verifier auth.Verifier

	logger logging.Logger
}

func NewHTTPHandler(uploads services.UploadService, verifier auth.Verifier, l logging.Logger) *HTTPHandler {
	return &HTTPHandler{
		uploads:  uploads,
		verifier: verifier,
		logger:   l,
	}
}

func (h *HTTPHandler) Register(r gin.IRouter) {
	group := r.Group("/api/videos")
	group.Use(h.authMiddleware())
	group.GET("/upload", h.handleGet)
	group.POST("/upload", h.handlePost)
}

// authMiddleware establishes the caller identity before any other
// processing. No identity, no dispatch.
func (h *HTTPHandler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			h.writeError(c, "", &apperror.AuthError{Reason: "missing bearer credential"})
			c.Abort()
			return
		}

		identity, err := h.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			h.writeError(c, "", err)
			c.Abort()
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	identity, _ := c.MustGet(identityKey).(*auth.Identity)
	return identity.UserID
}

func (h *HTTPHandler) handleGet(c *gin.Context) {
	op, err := ParseOperation(c.Query("type"))
	if err != nil {
		h.writeError(c, "", err)
		return
	}
	if op.Mutating() {
		h.writeError(c, op, apperror.NewValidationError("operation %s requires POST", op))
		return
	}

	metrics.OperationsInFlight.Inc()
	defer metrics.OperationsInFlight.Dec()

	ownerID := callerID(c)
	videoID := c.Query("videoId")
	uploadID := c.Query("uploadId")
	if videoID == "" || uploadID == "" {
		h.writeError(c, op, apperror.NewValidationError("missing videoId or uploadId"))
		return
	}

	switch op {
	case OpListParts:
		parts, err := h.uploads.ListParts(c.Request.Context(), ownerID, videoID, uploadID)
		if err != nil {
			h.writeError(c, op, err)
			return
		}
		h.writeOK(c, op, gin.H{"parts": parts})

	case OpSignPart:
		partNumber, err := strconv.ParseInt(c.Query("partNumber"), 10, 32)
		if err != nil {
			h.writeError(c, op, apperror.NewValidationError("missing or invalid partNumber"))
			return
		}
		url, err := h.uploads.SignPart(c.Request.Context(), ownerID, videoID, uploadID, int32(partNumber))
		if err != nil {
			h.writeError(c, op, err)
			return
		}
		h.writeOK(c, op, gin.H{"url": url})

	default:
		// unreachable: Mutating filtered everything else
		h.writeError(c, op, apperror.NewValidationError("invalid operation type %q", op))
	}
}

func (h *HTTPHandler) handlePost(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, "", apperror.NewValidationError("malformed request body"))
		return
	}

	typ := req.Type
	if typ == "" {
		typ = c.Query("type")
	}
	op, err := ParseOperation(typ)
	if err != nil {
		h.writeError(c, "", err)
		return
	}
	if !op.Mutating() {
		h.writeError(c, op, apperror.NewValidationError("operation %s requires GET", op))
		return
	}

	metrics.OperationsInFlight.Inc()
	defer metrics.OperationsInFlight.Dec()

	ctx := c.Request.Context()
	ownerID := callerID(c)

	switch op {
	case OpCreateDraftVideo:
		videoID, err := h.uploads.CreateDraftVideo(ctx, ownerID)
		if err != nil {
			h.writeError(c, op, err)
			return
		}
		h.writeOK(c, op, gin.H{"videoId": videoID})

	case OpGetUploadParameters:
		if req.VideoID == "" || req.ContentType == "" {
			h.writeError(c, op, apperror.NewValidationError("missing videoId or contentType"))
			return
		}
		url, err := h.uploads.GetUploadParameters(ctx, ownerID, req.VideoID, req.ContentType)
		if err != nil {
			h.writeError(c, op, err)
			return
		}
		h.writeOK(c, op, gin.H{"url": url})

	case OpCreateMultipartUpload:
		if req.VideoID == "" || req.ContentType == "" {
			h.writeError(c, op, apperror.NewValidationError("missing videoId or contentType"))
			return
		}
		mp, err := h.uploads.CreateMultipartUpload(ctx, ownerID, req.VideoID, req.ContentType)
		if err != nil {
			h.writeError(c, op, err)
			return
		}
		h.writeOK(c, op, gin.H{"uploadId": mp.UploadID, "key": mp.Key})

	case OpCompleteMultipartUpload:
		if req.VideoID == "" || req.UploadID == "" {
			h.writeError(c, op, apperror.NewValidationError("missing videoId or uploadId"))
			return
		}
		result, err := h.uploads.CompleteMultipartUpload(ctx, ownerID, req.VideoID, req.UploadID, req.Parts)
		if err != nil {
			h.writeError(c, op, err)
			return
		}
		h.writeOK(c, op, gin.H{"success": true, "location": result.Location, "key": result.Key})

	case OpAbortMultipartUpload:
		if req.VideoID == "" || req.UploadID == "" {
			h.writeError(c, op, apperror.NewValidationError("missing videoId or uploadId"))
			return
		}
		if err := h.uploads.AbortMultipartUpload(ctx, ownerID, req.VideoID, req.UploadID); err != nil {
			h.writeError(c, op, err)
			return
		}
		h.writeOK(c, op, gin.H{"success": true})

	case OpCompleteUpload:
		if req.VideoID == "" {
			h.writeError(c, op, apperror.NewValidationError("missing videoId"))
			return
		}
		meta := finalizeMetadataFromRequest(req)
		result, err := h.uploads.CompleteUpload(ctx, ownerID, req.VideoID, meta)
		if err != nil {
			h.writeError(c, op, err)
			return
		}
		body := gin.H{"success": true, "videoId": result.VideoID}
		if result.SyncWarning {
			metrics.SearchSyncFailures.Inc()
			body["warning"] = apperror.CodeSyncFailure
		}
		h.writeOK(c, op, body)

	case OpDiscardDraft:
		if req.VideoID == "" {
			h.writeError(c, op, apperror.NewValidationError("missing videoId"))
			return
		}
		if err := h.uploads.DiscardDraft(ctx, ownerID, req.VideoID, req.UploadID); err != nil {
			h.writeError(c, op, err)
			return
		}
		h.writeOK(c, op, gin.H{"success": true})

	default:
		// unreachable: Mutating filtered everything else
		h.writeError(c, op, apperror.NewValidationError("invalid operation type %q", op))
	}
}

func (h *HTTPHandler) writeOK(c *gin.Context, op Operation, body gin.H) {
	metrics.OperationsTotal.WithLabelValues(string(op), "ok").Inc()
	c.JSON(http.StatusOK, body)
}

// writeError maps the error taxonomy onto wire responses. Provider detail
// from storage failures is logged, never sent to the client.
func (h *HTTPHandler) writeError(c *gin.Context, op Operation, err error) {
	status := apperror.HTTPStatus(err)
	code := apperror.CodeOf(err)

	body := gin.H{"code": code}
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error("upload operation failed", "operation", string(op), "error", err)
		body["error"] = "upload operation failed"
	default:
		body["error"] = err.Error()
	}

	var conflictErr *apperror.ConflictError
	if errors.As(err, &conflictErr) && conflictErr.VideoID != "" {
		body["details"] = gin.H{"videoId": conflictErr.VideoID}
	}

	metrics.OperationsTotal.WithLabelValues(string(op), "error").Inc()
	c.JSON(status, body)
}

func finalizeMetadataFromRequest(req uploadRequest) models.FinalizeMetadata {
	return models.FinalizeMetadata{
		Width:    req.Width,
		Height:   req.Height,
		Duration: req.Duration,
		Size:     req.Size,
		Format:   req.Format,
		Title:    req.Title,
	}
}
