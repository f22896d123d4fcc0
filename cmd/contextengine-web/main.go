package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caseloop/contextengine/internal/backup"
	"github.com/caseloop/contextengine/internal/cache"
	"github.com/caseloop/contextengine/internal/compress"
	"github.com/caseloop/contextengine/internal/config"
	"github.com/caseloop/contextengine/internal/engine"
	"github.com/caseloop/contextengine/internal/gather"
	"github.com/caseloop/contextengine/internal/notify"
	"github.com/caseloop/contextengine/internal/render"
	"github.com/caseloop/contextengine/internal/server"
	"github.com/caseloop/contextengine/internal/storage"
	"github.com/caseloop/contextengine/internal/storage/postgres"
	"github.com/caseloop/contextengine/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	compressor := buildCompressor(cfg)

	backend, err := cache.NewMemoryBackend(cfg.Context.CacheSize)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}

	collaborators := gather.NewUpstreamClient(cfg.Upstream.BaseURL,
		time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second)
	gatherer := gather.NewGatherer(collaborators, collaborators, collaborators)

	eng := engine.NewEngine(store, gatherer,
		render.NewRenderer(compressor),
		cache.NewTierCache(backend),
		collaborators, collaborators)

	if cfg.Backup.Dir != "" && cfg.Storage.Engine == "sqlite" {
		backups, err := backup.NewService(backup.Config{
			DBPath:   cfg.Storage.DataPath + "/contextengine.db",
			Dir:      cfg.Backup.Dir,
			Interval: cfg.Backup.Interval,
			Keep:     cfg.Backup.Keep,
		})
		if err != nil {
			log.Fatalf("Failed to initialize backups: %v", err)
		}
		go backups.Run(ctx)
	}

	addr, hub := server.Start(ctx, cfg, eng)
	eng.SetEventSink(hub)
	log.Printf("Context engine API running at http://%s", addr)

	if *configPath != "" {
		watcher := notify.NewConfigWatcher(*configPath, func(updated *config.Config) {
			// Rate limits and compression endpoints apply on restart; the
			// record TTL can change live.
			if s, ok := store.(*sqlite.ContextStore); ok {
				s.SetRecordTTL(updated.Context.RecordTTL)
			}
			if s, ok := store.(*postgres.ContextStore); ok {
				s.SetRecordTTL(updated.Context.RecordTTL)
			}
		})
		if err := watcher.Start(); err != nil {
			log.Printf("WARNING: config watcher disabled: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		s, err := postgres.NewContextStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.SetRecordTTL(cfg.Context.RecordTTL)
		return s, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, err
		}
		s, err := sqlite.NewContextStore(cfg.Storage.DataPath + "/contextengine.db")
		if err != nil {
			return nil, err
		}
		s.SetRecordTTL(cfg.Context.RecordTTL)
		return s, nil
	}
}

func buildCompressor(cfg *config.Config) compress.Compressor {
	if cfg.Compression.ServiceURL == "" {
		log.Println("compress: no service URL configured, using local heuristic")
		return compress.NewHeuristic()
	}
	return compress.NewClient(compress.ClientConfig{
		BaseURL:     cfg.Compression.ServiceURL,
		Timeout:     time.Duration(cfg.Compression.TimeoutSeconds) * time.Second,
		MaxFailures: cfg.Compression.MaxFailures,
	})
}
