package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/navid-fn/tickerboard/configs"
	"github.com/navid-fn/tickerboard/internal/api/handler"
	apirouter "github.com/navid-fn/tickerboard/internal/api/router"
	"github.com/navid-fn/tickerboard/internal/api/service"
	"github.com/navid-fn/tickerboard/internal/ingester"
	"github.com/navid-fn/tickerboard/internal/storage"
	"github.com/navid-fn/tickerboard/internal/stream"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	appConfig, err := configs.AppLoad()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Run with Graceful Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, appConfig.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("Failed to provision schema", "error", err)
		os.Exit(1)
	}

	feed := ingester.NewIngester(ingester.Config{FeedURL: appConfig.FeedURL}, store, logger)
	go feed.Supervise(ctx)

	if appConfig.APIAddr != "" {
		go serveAPI(ctx, appConfig.APIAddr, store, logger)
	}

	srv := stream.NewServer(appConfig.ListenAddr, store, stream.SessionConfig{
		AllPushInterval:    time.Duration(appConfig.Stream.AllPushIntervalSeconds) * time.Second,
		SymbolPushInterval: time.Duration(appConfig.Stream.SymbolPushIntervalSeconds) * time.Second,
		PageSize:           appConfig.Stream.PageSize,
	}, logger)

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("Stream server stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

// serveAPI runs the read-only REST sidecar until the context is cancelled.
func serveAPI(ctx context.Context, addr string, store storage.Store, logger *slog.Logger) {
	tickerService := service.NewTickersService(store)
	tickerHandler := handler.NewTickerHandler(tickerService)
	engine := apirouter.NewRouter(&apirouter.Config{TickerHandler: tickerHandler})

	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("API server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("API server stopped with error", "error", err)
	}
}
