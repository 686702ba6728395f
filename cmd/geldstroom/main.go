package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	v1 "github.com/geldstroom-lab/project-geldstroom/internal/api/v1"
	"github.com/geldstroom-lab/project-geldstroom/internal/config"
	"github.com/geldstroom-lab/project-geldstroom/internal/dataset"
	"github.com/geldstroom-lab/project-geldstroom/internal/migrations"
	"github.com/geldstroom-lab/project-geldstroom/internal/query"
	"github.com/geldstroom-lab/project-geldstroom/internal/search"
	"github.com/geldstroom-lab/project-geldstroom/internal/server"
	"github.com/geldstroom-lab/project-geldstroom/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "geldstroom.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.Run(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Dataset Registry (built-ins plus optional YAML overlay)
	descriptors, err := dataset.LoadDir(cfg.Datasets.ConfigDir)
	if err != nil {
		slog.Error("Failed to load dataset descriptors", "error", err)
		os.Exit(1)
	}
	registry, err := dataset.NewRegistry(descriptors)
	if err != nil {
		slog.Error("Failed to build dataset registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Dataset registry initialized", "datasets", registry.Names())

	// 4. Initialize Text-Search Index Client
	index := search.NewClient(search.Config{
		Protocol: cfg.Search.Protocol,
		Host:     cfg.Search.Host,
		Port:     cfg.Search.Port,
		APIKey:   cfg.Search.APIKey,
		Timeout:  cfg.Search.Timeout(),
	})
	if index.Configured() {
		slog.Info("Text-search index configured", "host", cfg.Search.Host, "port", cfg.Search.Port)
	} else {
		slog.Warn("Text-search index not configured, all queries served relationally")
	}

	// 5. Initialize Query Engine
	querySvc := query.NewService(dbAdapter.DB(), registry, index, cfg.Database.QueryTimeout())

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	v1.NewHandler(querySvc).RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
