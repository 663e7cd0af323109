// Command api runs the read-only query API without any indexing supervisors: it serves
// get_recent_events/count_events (/events), get_enabled_chains (/chains), /stats (and the
// websocket event stream, which has no publishers in this process) against an already-populated
// database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/agent-registry-indexer/infrastructure/metrics"
	"github.com/R3E-Network/agent-registry-indexer/internal/platform/database"
	"github.com/R3E-Network/agent-registry-indexer/internal/platform/migrations"
	"github.com/R3E-Network/agent-registry-indexer/pkg/config"
	"github.com/R3E-Network/agent-registry-indexer/services/indexer"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env)")
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	runMigrate := flag.Bool("migrate", false, "run embedded database migrations on startup")
	flag.Parse()

	var cfg *config.Config
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := config.LoadFile(trimmed)
		if err != nil {
			log.Fatalf("load config %s: %v", trimmed, err)
		}
		cfg = loaded
	} else {
		loaded, err := config.Load()
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	dsnVal := resolveDSN(*dsn, cfg)
	if dsnVal == "" {
		log.Fatal("a PostgreSQL DSN is required (-dsn, DATABASE_URL, or config file)")
	}

	if *runMigrate {
		rootCtx := context.Background()
		db, err := database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		if err := migrations.Apply(db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
		db.Close()
	}

	storage, err := indexer.NewStorage(dsnVal, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns,
		time.Duration(cfg.Database.ConnMaxLifetime)*time.Second, cfg.Cache.MaxEvents)
	if err != nil {
		log.Fatalf("create storage: %v", err)
	}
	defer storage.Close()

	logEntry := logrus.NewEntry(logrus.StandardLogger())
	api := indexer.NewAPI(storage, indexer.NewBus(), indexer.NewStatsTracker(), logEntry)

	mtr := metrics.Global()
	r := chi.NewRouter()
	r.Mount("/", api.Router())
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.HandlerFor(mtr.Registry(), promhttp.HandlerOpts{}))
	}

	listenAddr := determineAddr(*addr, cfg)
	srv := &http.Server{Addr: listenAddr, Handler: r}

	go func() {
		log.Printf("query api listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if cfg != nil {
		return cfg.Database.DSN
	}
	return ""
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagAddr); trimmed != "" {
		return trimmed
	}
	if cfg != nil {
		return cfg.Server.Addr()
	}
	return fmt.Sprintf(":%d", 8080)
}
