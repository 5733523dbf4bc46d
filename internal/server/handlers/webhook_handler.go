package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/service/media"
	"github.com/mamadbah2/wacrm/internal/service/webhook"
)

// WebhookHandler exposes per-connection webhook ingestion over HTTP.
type WebhookHandler struct {
	svc    webhook.Ingestor
	logger *zap.Logger
}

// NewWebhookHandler constructs the HTTP handler adapter.
func NewWebhookHandler(svc webhook.Ingestor, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{svc: svc, logger: logger}
}

// Receive records an inbound webhook and writes its inline media.
func (h *WebhookHandler) Receive(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	body := map[string]any{}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("invalid webhook payload", zap.String("connection_id", id), zap.Error(err))
		fail(c, http.StatusBadRequest, "invalid payload", codeInvalidPayload)
		return
	}

	event, err := h.svc.Receive(c.Request.Context(), id, body)
	if err != nil {
		if errors.Is(err, webhook.ErrMissingConnectionID) {
			fail(c, http.StatusBadRequest, "Connection ID is required", codeMissingConnectionID)
			return
		}
		h.logger.Error("failed processing webhook", zap.String("connection_id", id), zap.Error(err))
		failWithDetails(c, http.StatusInternalServerError, "Failed to process webhook", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Webhook processed successfully",
		"data": gin.H{
			"type":         event.Type,
			"timestamp":    event.Timestamp,
			"connectionId": event.ConnectionID,
		},
	})
}

// List returns the most recent webhook events, oldest first.
func (h *WebhookHandler) List(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.svc.Query(id, limit)
	if err != nil {
		h.logger.Error("failed getting webhook data", zap.String("connection_id", id), zap.Error(err))
		failWithDetails(c, http.StatusInternalServerError, "Failed to get webhook data", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": events, "count": len(events)})
}

// Clear drops the history and stored media of a connection.
func (h *WebhookHandler) Clear(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	if err := h.svc.Clear(id); err != nil {
		if errors.Is(err, media.ErrInvalidConnectionID) {
			fail(c, http.StatusBadRequest, "Invalid connection ID", codeInvalidConnectionID)
			return
		}
		h.logger.Error("failed clearing webhook data", zap.String("connection_id", id), zap.Error(err))
		failWithDetails(c, http.StatusInternalServerError, "Failed to clear webhook data", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Webhook data cleared successfully"})
}

// Test records a sample webhook event.
func (h *WebhookHandler) Test(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	event, err := h.svc.SendTest(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed sending test webhook", zap.String("connection_id", id), zap.Error(err))
		failWithDetails(c, http.StatusInternalServerError, "Failed to send test webhook", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test webhook sent successfully", "data": event})
}

// TestMedia records a sample webhook event carrying an image.
func (h *WebhookHandler) TestMedia(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	event, err := h.svc.SendTestMedia(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed sending test webhook with media", zap.String("connection_id", id), zap.Error(err))
		failWithDetails(c, http.StatusInternalServerError, "Failed to send test webhook with media", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test webhook with media sent successfully", "data": event})
}
