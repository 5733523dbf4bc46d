package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/config"
	"github.com/mamadbah2/wacrm/internal/domain/models"
	"github.com/mamadbah2/wacrm/internal/repository/mongodb"
	"github.com/mamadbah2/wacrm/internal/scheduler"
	"github.com/mamadbah2/wacrm/internal/server/handlers"
	"github.com/mamadbah2/wacrm/internal/server/router"
	"github.com/mamadbah2/wacrm/internal/service/connections"
	"github.com/mamadbah2/wacrm/internal/service/media"
	"github.com/mamadbah2/wacrm/internal/service/messages"
	"github.com/mamadbah2/wacrm/internal/service/normalizer"
	"github.com/mamadbah2/wacrm/internal/service/webhook"
	whatsappclient "github.com/mamadbah2/wacrm/pkg/clients/whatsapp"
	"github.com/mamadbah2/wacrm/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Log.Level))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
	mongoRepo, err := mongodb.NewMessageRepository(initCtx, cfg.MongoDB.URI, cfg.MongoDB.DBName, cfg.MongoDB.MessagesCollection)
	if err != nil {
		cancelInit()
		baseLogger.Fatal("failed to init mongodb repository", zap.Error(err))
	}
	if err := mongoRepo.EnsureIndexes(initCtx); err != nil {
		baseLogger.Warn("failed to ensure message indexes", zap.Error(err))
	}
	cancelInit()
	defer func() {
		if err := mongoRepo.Close(context.Background()); err != nil {
			baseLogger.Error("failed to close mongodb connection", zap.Error(err))
		}
	}()

	mapper := normalizer.NewMapper(logger.Named(baseLogger, "svc.normalizer"))
	messageSvc := messages.NewService(mapper, mongoRepo, logger.Named(baseLogger, "svc.messages"))

	materializer := media.NewMaterializer(cfg.Webhook.UploadsDir, logger.Named(baseLogger, "svc.media"))
	webhookSvc := webhook.NewService(materializer, webhook.Options{
		Capacity:     cfg.Webhook.HistoryLimit,
		DefaultLimit: cfg.Webhook.QueryLimit,
	}, logger.Named(baseLogger, "svc.webhook"))

	gateway := whatsappclient.NewClient(cfg.Transport)
	manager := connections.NewManager(gateway, connections.Options{
		RenewInterval: cfg.Pairing.RenewInterval,
		RenewWindow:   cfg.Pairing.RenewWindow,
	}, logger.Named(baseLogger, "svc.connections"))
	manager.AddListener(func(evt models.LifecycleEvent) {
		if evt.Type != models.EventDeleted {
			return
		}
		if err := webhookSvc.Clear(evt.ConnectionID); err != nil {
			baseLogger.Warn("failed clearing webhook data of deleted connection",
				zap.String("connection_id", evt.ConnectionID), zap.Error(err))
		}
	})

	sched, err := scheduler.NewScheduler(cfg.Retention, materializer, logger.Named(baseLogger, "scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to init scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}

	engine := router.New(router.Handlers{
		Webhooks:    handlers.NewWebhookHandler(webhookSvc, logger.Named(baseLogger, "handlers.webhook")),
		Messages:    handlers.NewMessageHandler(messageSvc, logger.Named(baseLogger, "handlers.messages")),
		Connections: handlers.NewConnectionHandler(manager, logger.Named(baseLogger, "handlers.connections")),
		Events:      handlers.NewEventsHandler(manager, logger.Named(baseLogger, "handlers.events")),
	}, router.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		UploadsDir:     cfg.Webhook.UploadsDir,
	}, logger.Named(baseLogger, "router"))

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     engine,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	// Closing the manager first ends the websocket streams, which Shutdown does not track.
	manager.Close()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
