package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/abc-bedarieux/newsletter/internal/app"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// The worker runs only the campaign scheduler. Run it when the API server
// has scheduler.enabled=false, or as the single scheduler of a multi-replica
// deployment. Several workers are safe: each tick takes a distributed lock.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	once := flag.Bool("once", false, "run a single scheduling pass and exit")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		fatal("Failed to initialize services", err)
	}
	defer a.Close()

	if *once {
		n := a.Scheduler.Tick(ctx)
		logger.Info("Scheduling pass finished", "campaigns_sent", n)
		return
	}

	if err := a.Scheduler.Start(); err != nil {
		fatal("Failed to start scheduler", err)
	}
	logger.Info("Worker running", "poll_interval", cfg.Scheduler.Interval().String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	a.Scheduler.Stop()
	logger.Info("Worker stopped")
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	logger.Sync()
	os.Exit(1)
}
