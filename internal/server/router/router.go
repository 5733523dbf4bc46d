package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/server/handlers"
)

// Handlers groups the HTTP adapters mounted by the router.
type Handlers struct {
	Webhooks    *handlers.WebhookHandler
	Messages    *handlers.MessageHandler
	Connections *handlers.ConnectionHandler
	Events      *handlers.EventsHandler
}

// Options configures cross-cutting router behaviour.
type Options struct {
	// AllowedOrigins enables CORS for the CRM frontend. Empty disables it.
	AllowedOrigins []string
	// UploadsDir is served read-only under /uploads when set.
	UploadsDir     string
}

// New wires the Gin engine with required routes and middlewares.
func New(h Handlers, opts Options, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.UploadsDir != "" {
		r.Static("/uploads", opts.UploadsDir)
	}

	conns := r.Group("/connections")
	if h.Connections != nil {
		conns.POST("", h.Connections.Create)
		conns.GET("", h.Connections.List)
		conns.GET("/active", h.Connections.Active)
		conns.PUT("/active", h.Connections.SetActive)
		conns.GET("/:id", h.Connections.Get)
		conns.DELETE("/:id", h.Connections.Delete)
		conns.POST("/:id/pair", h.Connections.Pair)
		conns.GET("/:id/qr", h.Connections.QR)
		conns.POST("/:id/refresh-qr", h.Connections.RefreshQR)
		conns.POST("/:id/disconnect", h.Connections.Disconnect)
		conns.POST("/:id/lifecycle", h.Connections.Lifecycle)
	}
	if h.Events != nil {
		conns.GET("/events", h.Events.Stream)
	}
	if h.Webhooks != nil {
		conns.POST("/:id/webhook", h.Webhooks.Receive)
		conns.GET("/:id/webhook", h.Webhooks.List)
		conns.DELETE("/:id/webhook", h.Webhooks.Clear)
		conns.POST("/:id/webhook/test", h.Webhooks.Test)
		conns.POST("/:id/webhook/test-media", h.Webhooks.TestMedia)
	}
	if h.Messages != nil {
		conns.POST("/:id/messages", h.Messages.Ingest)
		conns.GET("/:id/messages", h.Messages.List)
	}

	if logger != nil {
		logger.Info("router initialized", zap.Int("routes", len(r.Routes())))
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
