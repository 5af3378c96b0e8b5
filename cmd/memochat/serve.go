package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/memochat/internal/chat"
	"github.com/antoniostano/memochat/internal/gateway"
	"github.com/antoniostano/memochat/internal/httpapi"
	"github.com/antoniostano/memochat/internal/kv"
	"github.com/antoniostano/memochat/internal/logging"
	"github.com/antoniostano/memochat/internal/memo"
	"github.com/antoniostano/memochat/internal/notify"
	"github.com/antoniostano/memochat/internal/observability"
	"github.com/antoniostano/memochat/internal/reminder"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the reminder scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	backend, err := kv.NewStore(ctx, cfg.MemoStoreURL)
	if err != nil {
		return err
	}
	defer backend.Close()

	memos := memo.NewStore(backend, cfg.MemoStoreKey,
		memo.WithLogger(logger),
		memo.WithMetrics(metrics),
	)
	memos.Reload(ctx)

	gw, err := gateway.New(gateway.Config{
		Mode:    cfg.GatewayMode,
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
		Timeout: cfg.GeminiRequestTimeout,
	})
	if err != nil {
		return err
	}
	if cfg.GeminiAPIKey == "" && cfg.GatewayMode != "mock" {
		logger.Warn("GEMINI_API_KEY is not set; chat turns will fail until it is configured")
	}

	hub := notify.NewHub(logger, metrics)
	chatService := chat.NewService(gw, memos,
		chat.WithLocation(cfg.Location),
		chat.WithLogger(logger),
		chat.WithMetrics(metrics),
	)
	scheduler := reminder.New(memos, hub,
		reminder.WithLocation(cfg.Location),
		reminder.WithInterval(cfg.ReminderTickInterval),
		reminder.WithLogger(logger),
		reminder.WithMetrics(metrics),
	)

	api := httpapi.New(cfg, chatService, memos, hub, metrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
		// Request contexts, websockets included, end with the process.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logger.Info("server listening",
			zap.String("addr", cfg.BindAddr),
			zap.String("gateway_mode", cfg.GatewayMode),
			zap.String("memo_store", backend.Mode()),
			zap.Int("memos", memos.Len()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
