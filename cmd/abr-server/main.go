package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abr-vis/abr-server/core/gateway"
	"github.com/abr-vis/abr-server/core/infra/buildinfo"
	"github.com/abr-vis/abr-server/core/infra/config"
	infraMetrics "github.com/abr-vis/abr-server/core/infra/metrics"
	"github.com/abr-vis/abr-server/core/infra/schema"
	"github.com/abr-vis/abr-server/core/notify"
	"github.com/abr-vis/abr-server/core/state"
	"github.com/abr-vis/abr-server/core/visassets"
)

func main() {
	log.Println("abr-server starting...")
	buildinfo.Log("abr-server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	for _, dir := range []string{cfg.VisAssetDir(), cfg.DatasetDir(), cfg.ThumbnailDir(), cfg.StatesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create media dir %s: %v", dir, err)
		}
	}

	registry, err := schema.NewRegistry(cfg.SchemaDir)
	if err != nil {
		log.Fatalf("failed to load schemas from %s: %v", cfg.SchemaDir, err)
	}
	validator, ok := registry.Validator(cfg.StateSchema)
	if !ok {
		log.Fatalf("state schema %s not found in %s", cfg.StateSchema, cfg.SchemaDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := infraMetrics.NewProm("abr")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", infraMetrics.Handler())
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		log.Printf("metrics on %s/metrics", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	notifier := notify.New(metrics)
	assets := visassets.NewManager(cfg.VisAssetDir(), cfg.VisAssetLibrary, cfg.DownloadWorkers, metrics)

	store, err := state.New(state.Options{
		Validator:       validator,
		BackupPath:      cfg.BackupPath(),
		BackupRetention: cfg.BackupRetention,
		HistoryLimit:    cfg.HistoryLimit,
		Announcer:       notifier,
		Resolver:        assets,
		DownloadAssets:  cfg.DownloadVisAssets,
		Metrics:         metrics,
	})
	if err != nil {
		log.Fatalf("failed to initialize state store: %v", err)
	}

	// Reload schemas live so an edited schema takes effect without a
	// restart.
	registry.OnReload(func(name string) {
		if name != cfg.StateSchema {
			return
		}
		if v, ok := registry.Validator(name); ok {
			store.SetValidator(v)
		}
	})
	if err := registry.Watch(ctx); err != nil {
		log.Printf("schema hot reload unavailable: %v", err)
	}

	gw := gateway.New(gateway.Options{
		Config:   cfg,
		Store:    store,
		Notifier: notifier,
		Assets:   assets,
		Schemas:  registry,
		Metrics:  infraMetrics.NewGatewayProm("abr"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
