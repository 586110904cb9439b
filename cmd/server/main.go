package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/abc-bedarieux/newsletter/internal/api"
	"github.com/abc-bedarieux/newsletter/internal/app"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config", err)
	}
	defer logger.Sync()

	if cfg.Auth.JWTSecret == "" {
		fatal("Refusing to start", errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	}
	// Pre-flight: a stale process on the port is easier to spot here than
	// as a bind error after the database work.
	if err := app.CheckPortAvailable(cfg.Server.Addr()); err != nil {
		fatal("Pre-flight check failed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		fatal("Failed to initialize services", err)
	}
	defer a.Close()

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			logger.Warn("Campaign scheduler not started", "error", err)
		}
	} else {
		logger.Info("Campaign scheduler disabled (scheduler.enabled=false); run cmd/worker instead")
	}

	srv := api.NewServer(cfg.Server, a.APIDeps())
	go func() {
		logger.Info("Newsletter API listening",
			"addr", cfg.Server.Addr(),
			"public_base_url", cfg.Server.PublicBaseURL,
			"mail_transport", cfg.Mail.Transport,
			"storage", cfg.Storage.Type,
			"redis", a.Redis != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Server exited")
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	logger.Sync()
	os.Exit(1)
}
