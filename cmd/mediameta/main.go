package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clipdeck/mediameta/internal/api"
	"github.com/clipdeck/mediameta/internal/bulkscan"
	"github.com/clipdeck/mediameta/internal/catalog"
	"github.com/clipdeck/mediameta/internal/config"
	"github.com/clipdeck/mediameta/internal/coord"
	"github.com/clipdeck/mediameta/internal/probe"
	"github.com/clipdeck/mediameta/internal/repair"
	"github.com/clipdeck/mediameta/internal/version"
	"github.com/clipdeck/mediameta/internal/worker"
)

func main() {
	log.Printf("mediameta %s starting...", version.Load().Version)

	cfg := config.Load()

	cat := catalog.NewClient(cfg.CatalogURL, cfg.CatalogAPIKey)
	co := coord.New()
	engine := probe.NewEngine(cfg.FFmpegPath, cfg.FFprobePath, cfg.WorkDir, cfg.ThumbnailMaxEdge)
	hub := api.NewWSHub()

	idle := worker.NewIdle(cat, cat, engine, co, hub)
	idle.PollInterval = cfg.PollInterval
	idle.Start()
	defer idle.Stop()

	scanner := bulkscan.New(cat, cat, engine, co, hub)
	scanner.BatchSize = cfg.ScanBatchSize

	repairer := repair.New(cat, engine, co)

	if cfg.MaintenanceSpec != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.MaintenanceSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := bulkscan.FixBroken(ctx, cat); err != nil {
				log.Printf("scheduled maintenance: %v", err)
			}
			if _, err := bulkscan.OrganizeAll(ctx, cat); err != nil {
				log.Printf("scheduled maintenance: %v", err)
			}
		})
		if err != nil {
			log.Fatalf("invalid MAINTENANCE_SCHEDULE %q: %v", cfg.MaintenanceSpec, err)
		}
		c.Start()
		defer c.Stop()
		log.Printf("scheduled maintenance enabled (%s)", cfg.MaintenanceSpec)
	}

	srv := api.NewServer(cfg, cat, co, idle, scanner, repairer, hub)

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on :%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	scanner.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
}
