package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/livekit/protocol/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/avierra/avatarbridge/internal/avatar"
	"github.com/avierra/avatarbridge/internal/config"
	"github.com/avierra/avatarbridge/internal/coordinator"
	"github.com/avierra/avatarbridge/internal/credentials"
	"github.com/avierra/avatarbridge/internal/httpapi"
	"github.com/avierra/avatarbridge/internal/observability"
	"github.com/avierra/avatarbridge/internal/room"
)

func main() {
	// Local development loads settings from .env; deployments set real
	// environment variables and have no .env file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger.InitFromConfig(&logger.Config{Level: "info"}, "avatarbridge")
	lksdk.SetLogger(logger.GetLogger())

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var coord *coordinator.Coordinator
	if err := cfg.BridgeReady(); err != nil {
		// Keep the health endpoint alive so orchestrators can still probe
		// the process; session starts will be rejected.
		logger.Warnw("bridge disabled", err)
	} else {
		issuer, err := credentials.NewIssuer(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.TokenTTL)
		if err != nil {
			log.Fatalf("credential issuer init failed: %v", err)
		}
		avatarClient, err := avatar.NewClient(avatar.Config{
			BaseURL:    cfg.AvatarAPIBaseURL,
			APIKey:     cfg.AvatarAPIKey,
			Timeout:    cfg.AvatarCallTimeout,
			MaxRetries: cfg.AvatarMaxRetries,
		})
		if err != nil {
			log.Fatalf("avatar client init failed: %v", err)
		}
		coord = coordinator.New(cfg, coordinator.NewMemoryStore(), issuer, room.NewLiveKitGateway(), avatarClient, metrics)
		logger.Infow("bridge ready",
			"livekitUrl", cfg.LiveKitURL,
			"startPolicy", cfg.StartPolicy,
			"coachTrack", cfg.CoachTrackName,
			"coachIdentityPrefix", cfg.CoachIdentityPrefix)
	}

	// A typed nil would make the interface non-nil, so only assign when the
	// coordinator exists.
	var controller httpapi.Coordinator
	if coord != nil {
		controller = coord
	}
	api := httpapi.New(cfg, controller)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Infow("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("graceful shutdown failed", err)
		_ = httpServer.Close()
	}
	if coord != nil {
		coord.Close()
	}

	logger.Infow("shutdown complete")
}
