package webhook

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository"
	"github.com/jwalitptl/billing-webhooks/internal/service/webhook"
	"github.com/jwalitptl/billing-webhooks/pkg/errors"
	"github.com/jwalitptl/billing-webhooks/pkg/httputil"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
)

const defaultListLimit = 50

// Handler is the HTTP edge of the webhook subsystem. The ingress endpoint
// is provider-facing and unauthenticated beyond the signature itself; the
// remaining endpoints are the operator surface and sit behind auth.
type Handler struct {
	ingestor        *webhook.Ingestor
	retrier         *webhook.Retrier
	events          repository.WebhookEventRepository
	attempts        repository.VerificationAttemptRepository
	signatureHeader string
	logger          *logger.Logger
}

func NewHandler(
	ingestor *webhook.Ingestor,
	retrier *webhook.Retrier,
	events repository.WebhookEventRepository,
	attempts repository.VerificationAttemptRepository,
	signatureHeader string,
	logger *logger.Logger,
) *Handler {
	return &Handler{
		ingestor:        ingestor,
		retrier:         retrier,
		events:          events,
		attempts:        attempts,
		signatureHeader: signatureHeader,
		logger:          logger,
	}
}

// RegisterIngressRoutes mounts the provider-facing endpoint.
func (h *Handler) RegisterIngressRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/billing", h.Receive)
}

// RegisterOperatorRoutes mounts the authenticated operator surface.
func (h *Handler) RegisterOperatorRoutes(r *gin.RouterGroup) {
	events := r.Group("/webhooks/events")
	{
		events.GET("", h.ListEvents)
		events.GET("/stats", h.GetStats)
		events.GET("/:event_id", h.GetEvent)
		events.POST("/:event_id/retry", h.RetryEvent)
	}
	r.GET("/webhooks/verifications", h.ListVerifications)
	r.GET("/webhooks/verifications/summary", h.VerificationSummary)
}

// Receive handles one provider delivery. The body must reach the verifier
// byte for byte as received, so it is read raw and never bound.
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		// MaxBytesReader surfaces oversized chunked bodies here.
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "failed to read request body"})
		return
	}

	result := h.ingestor.Ingest(c.Request.Context(), webhook.IngestRequest{
		Body:            body,
		SignatureHeader: c.GetHeader(h.signatureHeader),
		SourceIP:        c.ClientIP(),
		UserAgent:       c.Request.UserAgent(),
	})

	c.JSON(result.StatusCode, result)
}

func (h *Handler) ListEvents(c *gin.Context) {
	filters := model.WebhookEventFilters{
		Status:    c.Query("status"),
		EventType: c.Query("event_type"),
		Limit:     queryInt(c, "limit", defaultListLimit),
		Offset:    queryInt(c, "offset", 0),
	}

	if raw := c.Query("organization_id"); raw != "" {
		orgID, err := uuid.Parse(raw)
		if err != nil {
			httputil.RespondWithError(c, errors.BadRequest("invalid organization_id", err))
			return
		}
		filters.OrganizationID = &orgID
	}
	if raw := c.Query("livemode"); raw != "" {
		livemode, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.RespondWithError(c, errors.BadRequest("invalid livemode", err))
			return
		}
		filters.Livemode = &livemode
	}

	events, err := h.events.List(c.Request.Context(), filters)
	if err != nil {
		h.logger.Error(err, "failed to list events")
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, events)
}

func (h *Handler) GetEvent(c *gin.Context) {
	event, err := h.events.GetByEventID(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		h.logger.Error(err, "failed to get event", "event_id", c.Param("event_id"))
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	if event == nil {
		httputil.RespondWithError(c, errors.NotFound("event", nil))
		return
	}

	httputil.RespondWithSuccess(c, event)
}

// RetryEvent triggers an immediate reprocessing attempt. Guards live in the
// retrier, so the manual path cannot bypass the retry ceiling or reprocess
// a processed event.
func (h *Handler) RetryEvent(c *gin.Context) {
	result := h.retrier.Retry(c.Request.Context(), c.Param("event_id"))
	if !result.Success {
		c.JSON(result.StatusCode, gin.H{"success": false, "error": result.Message})
		return
	}

	httputil.RespondWithSuccess(c, gin.H{
		"event_id": c.Param("event_id"),
		"message":  result.Message,
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	var orgID *uuid.UUID
	if raw := c.Query("organization_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httputil.RespondWithError(c, errors.BadRequest("invalid organization_id", err))
			return
		}
		orgID = &id
	}

	stats, err := h.events.GetStats(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error(err, "failed to get event stats")
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, stats)
}

func (h *Handler) ListVerifications(c *gin.Context) {
	filters := model.VerificationFilters{
		Outcome: c.Query("outcome"),
		EventID: c.Query("event_id"),
		Limit:   queryInt(c, "limit", defaultListLimit),
		Offset:  queryInt(c, "offset", 0),
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.RespondWithError(c, errors.BadRequest("invalid since, expected RFC3339", err))
			return
		}
		filters.Since = &since
	}

	attempts, err := h.attempts.List(c.Request.Context(), filters)
	if err != nil {
		h.logger.Error(err, "failed to list verification attempts")
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, attempts)
}

// VerificationSummary reports success/failure counts over a trailing window,
// the signal the security dashboard alerts on.
func (h *Handler) VerificationSummary(c *gin.Context) {
	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			httputil.RespondWithError(c, errors.BadRequest("invalid window, expected Go duration", err))
			return
		}
		window = parsed
	}

	counts, err := h.attempts.CountByOutcome(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		h.logger.Error(err, "failed to summarize verification attempts")
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, gin.H{
		"window":  window.String(),
		"success": counts[model.VerificationOutcomeSuccess],
		"failed":  counts[model.VerificationOutcomeFailed],
	})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
