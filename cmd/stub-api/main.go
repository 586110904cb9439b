package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/api"
	"github.com/abc-bedarieux/newsletter/internal/app"
	"github.com/abc-bedarieux/newsletter/internal/auth"
	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/repository/memory"
)

const devSecret = "stub-api-dev-secret"

// stub-api runs the full API over an in-memory store with the log mail
// transport, for front-end work without PostgreSQL. Nothing is persisted.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	fmt.Fprintln(os.Stderr, "WARNING: stub-api keeps everything in memory and never sends real email.")
	fmt.Fprintln(os.Stderr, "For the real server, run: go run ./cmd/server")

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config", err)
	}
	defer logger.Sync()

	cfg.Mail.Transport = "log"
	cfg.Storage.Type = "local"
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = devSecret
	}

	mem := memory.New()
	seed(mem)

	a, err := app.NewInMemory(context.Background(), cfg, mem)
	if err != nil {
		fatal("Failed to initialize services", err)
	}
	defer a.Close()

	token, err := a.Auth.Issue(auth.Principal{UserID: "stub-admin", Email: "admin@localhost", Role: a.Auth.AdminRole()}, 24*time.Hour)
	if err != nil {
		fatal("Failed to issue admin token", err)
	}
	fmt.Fprintf(os.Stderr, "Admin bearer token (24h):\n%s\n", token)

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			logger.Warn("Campaign scheduler not started", "error", err)
		}
	}

	srv := api.NewServer(cfg.Server, a.APIDeps())
	go func() {
		logger.Info("Stub API listening", "addr", cfg.Server.Addr(), "public_base_url", cfg.Server.PublicBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Stub API forced to shutdown", "error", err)
	}
}

// seed adds a little site content so campaigns can reference it.
func seed(mem *memory.DB) {
	now := time.Now().UTC()
	mem.Seed(
		[]domain.Event{{
			ID:       "evt-vide-grenier",
			Title:    "Vide-grenier de printemps",
			Summary:  "Sur les allées Faulquier, de 8h à 17h.",
			Location: "Allées Faulquier, Bédarieux",
			URL:      "/agenda/vide-grenier",
			StartsAt: now.AddDate(0, 0, 10),
		}},
		[]domain.Place{{
			ID:      "plc-maison-des-arts",
			Name:    "Maison des Arts",
			Summary: "Expositions et ateliers toute l'année.",
			Address: "Rue de la République, Bédarieux",
			URL:     "/lieux/maison-des-arts",
		}},
		[]domain.Post{{
			ID:          "pst-bienvenue",
			Title:       "Bienvenue sur le nouveau site",
			Excerpt:     "Le site de l'association fait peau neuve.",
			URL:         "/actualites/bienvenue",
			PublishedAt: now.AddDate(0, 0, -2),
		}},
	)
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	logger.Sync()
	os.Exit(1)
}
