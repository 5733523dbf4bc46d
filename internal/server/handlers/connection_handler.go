package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/domain/models"
	"github.com/mamadbah2/wacrm/internal/service/connections"
)

// ConnectionHandler exposes the connection lifecycle over HTTP.
type ConnectionHandler struct {
	svc    connections.Service
	logger *zap.Logger
}

// NewConnectionHandler constructs the HTTP handler adapter.
func NewConnectionHandler(svc connections.Service, logger *zap.Logger) *ConnectionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionHandler{svc: svc, logger: logger}
}

type createConnectionRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name" binding:"required"`
	OwnerID string `json:"ownerId"`
}

type setActiveRequest struct {
	ID string `json:"id" binding:"required"`
}

type lifecycleRequest struct {
	Event      string `json:"event" binding:"required"`
	QR         string `json:"qr"`
	WhatsAppID string `json:"whatsappId"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
}

// Create registers a new connection.
func (h *ConnectionHandler) Create(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid connection payload", zap.Error(err))
		fail(c, http.StatusBadRequest, "invalid payload", codeInvalidPayload)
		return
	}

	conn, err := h.svc.Register(req.ID, req.Name, req.OwnerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": conn})
}

// List returns every connection and the active selection.
func (h *ConnectionHandler) List(c *gin.Context) {
	list := h.svc.List()
	var activeID string
	if active, ok := h.svc.Active(); ok {
		activeID = active.ID
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "count": len(list), "activeId": activeID})
}

// Get returns a single connection.
func (h *ConnectionHandler) Get(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	conn, err := h.svc.Get(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": conn})
}

// Delete removes a connection in any state.
func (h *ConnectionHandler) Delete(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Connection deleted successfully"})
}

// Pair starts pairing and returns the first QR code.
func (h *ConnectionHandler) Pair(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	conn, err := h.svc.Pair(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondWithQR(c, conn)
}

// RefreshQR issues a fresh QR code for a pairing connection.
func (h *ConnectionHandler) RefreshQR(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	conn, err := h.svc.RefreshQR(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondWithQR(c, conn)
}

// QR returns the current QR code as raw text and as a PNG data URL.
func (h *ConnectionHandler) QR(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	conn, err := h.svc.Get(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if conn.QRCode == "" {
		fail(c, http.StatusNotFound, "QR code not available", "QR_NOT_AVAILABLE")
		return
	}
	h.respondWithQR(c, conn)
}

// Disconnect ends the session of a connection.
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	conn, err := h.svc.Disconnect(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": conn})
}

// Active returns the selected connection.
func (h *ConnectionHandler) Active(c *gin.Context) {
	conn, ok := h.svc.Active()
	if !ok {
		fail(c, http.StatusNotFound, "No active connection", "NO_ACTIVE_CONNECTION")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": conn})
}

// SetActive selects the connection used by the UI.
func (h *ConnectionHandler) SetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Connection ID is required", codeMissingConnectionID)
		return
	}
	conn, err := h.svc.SetActive(strings.TrimSpace(req.ID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": conn})
}

// Lifecycle applies an event reported by the session gateway.
func (h *ConnectionHandler) Lifecycle(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload", codeInvalidPayload)
		return
	}

	var (
		conn models.Connection
		err  error
	)
	switch strings.ToLower(req.Event) {
	case "qr":
		conn, err = h.svc.HandleQR(id, req.QR)
	case "open":
		conn, err = h.svc.HandleOpened(id, connections.IdentityFromJID(req.WhatsAppID, req.Name, req.Phone))
	case "removed", "close":
		conn, err = h.svc.HandleRemoved(id)
	default:
		fail(c, http.StatusBadRequest, "unsupported lifecycle event", "UNSUPPORTED_EVENT")
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("lifecycle event applied",
		zap.String("connection_id", id),
		zap.String("event", req.Event),
		zap.String("state", string(conn.State)))
	c.JSON(http.StatusOK, gin.H{"success": true, "data": conn})
}

func (h *ConnectionHandler) respondWithQR(c *gin.Context, conn models.Connection) {
	data := gin.H{
		"connection":      conn,
		"connectionState": conn.State,
		"qrCode":          conn.QRCode,
	}
	if conn.QRCode != "" {
		uri, err := connections.RenderDataURL(conn.QRCode)
		if err != nil {
			h.logger.Warn("failed rendering qr code", zap.String("connection_id", conn.ID), zap.Error(err))
		} else {
			data["qrDataUrl"] = uri
		}
		data["issuedAt"] = conn.QRIssuedAt
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (h *ConnectionHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, connections.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error(), "CONNECTION_NOT_FOUND")
	case errors.Is(err, connections.ErrExists):
		fail(c, http.StatusConflict, err.Error(), "CONNECTION_EXISTS")
	case errors.Is(err, connections.ErrInvalidTransition):
		fail(c, http.StatusConflict, err.Error(), "INVALID_TRANSITION")
	case errors.Is(err, connections.ErrNameRequired), errors.Is(err, connections.ErrQRRequired):
		fail(c, http.StatusBadRequest, err.Error(), codeInvalidPayload)
	case errors.Is(err, connections.ErrClosed):
		fail(c, http.StatusServiceUnavailable, err.Error(), "SHUTTING_DOWN")
	default:
		h.logger.Error("connection operation failed", zap.Error(err))
		failWithDetails(c, http.StatusBadGateway, "Transport request failed", err)
	}
}
