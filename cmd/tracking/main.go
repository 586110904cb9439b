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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abc-bedarieux/newsletter/internal/app"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/pkg/metrics"
)

// The tracking service serves only the pixel, click and web-view routes so
// that it can be scaled and exposed separately from the admin API.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	port := flag.String("addr", "", "listen address (defaults to server.host:server.port)")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config", err)
	}
	defer logger.Sync()

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		fatal("Failed to initialize services", err)
	}
	defer a.Close()

	// chi wants middleware before routes, so Routes() cannot be reused here.
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RealIP)
	router.Use(metrics.Middleware)
	a.Tracking.Mount(router)
	router.Get("/health", a.Tracking.HandleHealth)
	router.Handle("/metrics", metrics.Handler())

	addr := *port
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Tracking service listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("listen", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down tracking service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Tracking service forced to shutdown", "error", err)
	}
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	logger.Sync()
	os.Exit(1)
}
