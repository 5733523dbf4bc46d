package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/domain/models"
	"github.com/mamadbah2/wacrm/internal/service/messages"
)

// MessageHandler accepts transport envelopes and serves stored rows.
type MessageHandler struct {
	svc    messages.Ingestor
	logger *zap.Logger
}

// NewMessageHandler constructs the HTTP handler adapter.
func NewMessageHandler(svc messages.Ingestor, logger *zap.Logger) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{svc: svc, logger: logger}
}

type ingestRequest struct {
	OwnerID  string            `json:"ownerId"`
	ChatID   string            `json:"chatId"`
	Messages []models.Envelope `json:"messages" binding:"required"`
}

// Ingest normalizes and stores a batch of envelopes.
func (h *MessageHandler) Ingest(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid messages payload", zap.String("connection_id", id), zap.Error(err))
		fail(c, http.StatusBadRequest, "invalid payload", codeInvalidPayload)
		return
	}

	result, err := h.svc.Ingest(c.Request.Context(), messages.IngestRequest{
		ConnectionID: id,
		OwnerID:      req.OwnerID,
		ChatID:       req.ChatID,
		Envelopes:    req.Messages,
	})
	if err != nil {
		if errors.Is(err, messages.ErrMissingConnectionID) {
			fail(c, http.StatusBadRequest, "Connection ID is required", codeMissingConnectionID)
			return
		}
		failWithDetails(c, http.StatusBadGateway, "Failed to store messages", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// List returns stored rows, newest first.
func (h *MessageHandler) List(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}

	limit, _ := strconv.ParseInt(c.Query("limit"), 10, 64)
	rows, err := h.svc.List(c.Request.Context(), id, c.Query("chatId"), limit)
	if err != nil {
		h.logger.Error("failed listing messages", zap.String("connection_id", id), zap.Error(err))
		failWithDetails(c, http.StatusBadGateway, "Failed to list messages", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows, "count": len(rows)})
}
