package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatehouse-hq/gatehouse/common/logger"
	"github.com/gatehouse-hq/gatehouse/internal/event"
	"github.com/gatehouse-hq/gatehouse/internal/router"
	"github.com/gatehouse-hq/gatehouse/internal/service"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	eventHeader     = "X-GitHub-Event"
	signaturePrefix = "sha256="
)

// GitHubWebhookHandler authenticates signed GitHub webhook deliveries and
// feeds them through the shared processing path. Dependencies are wired at
// construction; nothing is captured per-connection.
type GitHubWebhookHandler struct {
	processor *service.Processor
	secret    []byte
	now       func() time.Time
}

func NewGitHubWebhookHandler(secret string, processor *service.Processor) *GitHubWebhookHandler {
	return &GitHubWebhookHandler{
		processor: processor,
		secret:    []byte(secret),
		now:       time.Now,
	}
}

func (h *GitHubWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Delivery:  logger.Ptr("webhook"),
		Component: "gatehouse.webhook",
	})

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if !h.verifySignature(body, c.GetHeader(signatureHeader)) {
		// No detail leaked: a bad secret and a missing header look the same.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	eventType := c.GetHeader(eventHeader)
	if eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + eventHeader + " header"})
		return
	}

	// Inject the header-derived type into the payload so downstream code is
	// delivery-mode-agnostic.
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	payload[event.EventNameField] = eventType

	augmented, err := json.Marshal(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ev, err := event.Parse(augmented, h.now().UTC())
	if err != nil {
		slog.WarnContext(ctx, "rejecting malformed event", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	result, err := h.processor.Process(ctx, ev)
	if err != nil {
		if errors.Is(err, router.ErrUnsupportedEventType) || errors.Is(err, router.ErrUnsupportedAction) {
			slog.WarnContext(ctx, "unsupported event", "error", err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported event"})
			return
		}
		slog.ErrorContext(ctx, "failed to process event", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	slog.InfoContext(ctx, "webhook processed",
		"event_id", result.EventID,
		"admitted", result.Admitted,
		"flushed", result.Flushed)

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"event_id": result.EventID,
		"admitted": result.Admitted,
	})
}

// verifySignature computes HMAC-SHA256 over the raw body and compares in
// constant time. A missing header or missing scheme prefix always fails.
func (h *GitHubWebhookHandler) verifySignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	received := strings.TrimPrefix(signature, signaturePrefix)

	return hmac.Equal([]byte(expected), []byte(received))
}
