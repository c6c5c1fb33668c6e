package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	echoapi "go.pilab.hu/socialcore/api/echo"
	"go.pilab.hu/socialcore/config"
	"go.pilab.hu/socialcore/internal/app"
	"go.pilab.hu/socialcore/internal/server"
	"go.pilab.hu/socialcore/log"
	"go.pilab.hu/socialcore/tracing"
)

func main() {
	configFile := flag.String("config", "", "path to socialcore.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	appLogger := log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty)
	ctx := context.Background()
	appLogger.Info(ctx, "Starting socialcore server...", log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"store":        cfg.StoreDriver,
		"redis":        cfg.RedisAddr != "",
		"google":       cfg.GoogleEnabled(),
		"media":        cfg.MediaEnabled(),
		"log_level":    cfg.LogLevel,
		"otel_service": cfg.OtelServiceName,
	})

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracerProvider(cfg.OtelServiceName, nil)
		if err != nil {
			appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
		}
		defer tracing.Shutdown(context.Background(), tp)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, 30*time.Second)
	core, err := app.New(startCtx, cfg, appLogger, app.Options{})
	cancelStart()
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize session core", err)
	}

	apiOpts := &echoapi.SessionAPIOptions{
		Sessions:       core.Sessions,
		Resets:         core.Identity,
		Gatherer:       core.Registry,
		MaxUploadBytes: cfg.MediaMaxBytes,
	}
	if core.Posts != nil {
		apiOpts.Posts = core.Posts
	}
	httpServer := server.NewHTTPServer(cfg, appLogger, tracing.Tracer, echoapi.NewSessionAPI(apiOpts))

	go func() {
		appLogger.Info(ctx, "HTTP server listening", log.Fields{"addr": cfg.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(ctx, "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit
	appLogger.Info(ctx, "Shutting down server...", log.Fields{"signal": receivedSignal.String()})

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	core.Close(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}
