package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/abc-bedarieux/newsletter/internal/config"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	dir := flag.String("dir", "", "migrations directory (overrides database.migrations_path)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [-config file] [-dir path] up | down [steps] | version")
	}
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("load config", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	defer logger.Sync()

	if *dir != "" {
		cfg.Database.MigrationsPath = *dir
	}
	if cfg.Database.URL == "" {
		fatal("load config", fmt.Errorf("DATABASE_URL is required"))
	}

	m, err := postgres.NewMigrator(cfg.Database)
	if err != nil {
		fatal("init migrator", err)
	}
	defer m.Close()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}
	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		steps := 1
		if s := flag.Arg(1); s != "" {
			if steps, err = strconv.Atoi(s); err != nil {
				fatal("parse steps", err)
			}
		}
		err = m.Down(steps)
		if err == nil {
			logger.Info("Rolled back migrations", "steps", steps)
		}
	case "version":
		var v uint
		var dirty bool
		v, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("version %d (dirty: %t)\n", v, dirty)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(cmd, err)
	}
}

func fatal(step string, err error) {
	logger.Error("Migration command failed", "step", step, "error", err)
	logger.Sync()
	os.Exit(1)
}
