// Command indexer runs the multi-chain event indexer: one supervised syncer per configured
// chain, sharing storage, the broadcast bus, and the read query API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/agent-registry-indexer/infrastructure/logging"
	"github.com/R3E-Network/agent-registry-indexer/infrastructure/metrics"
	"github.com/R3E-Network/agent-registry-indexer/internal/platform/database"
	"github.com/R3E-Network/agent-registry-indexer/internal/platform/migrations"
	"github.com/R3E-Network/agent-registry-indexer/pkg/config"
	"github.com/R3E-Network/agent-registry-indexer/services/indexer"
)

func main() {
	cfg, err := config.Load()
	log := logging.New("indexer", cfg.Logging.Level, cfg.Logging.Format).WithContext(context.Background())
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	if cfg.Database.MigrateOnStart {
		if err := runMigrations(cfg.Database.DSN); err != nil {
			log.WithError(err).Fatal("apply migrations")
		}
	}

	chainsCfg, err := indexer.LoadChainsConfig(cfg.ChainsFile)
	if err != nil {
		log.WithError(err).Fatal("load chains config")
	}

	svc, err := indexer.NewService(chainsCfg, cfg.Database.DSN, cfg.Cache.MaxEvents, log)
	if err != nil {
		log.WithError(err).Fatal("create indexer service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.WithError(err).Fatal("start indexer service")
	}

	mtr := metrics.Global()
	api := indexer.NewAPI(svc.Storage(), svc.Bus(), svc.Stats(), log)

	r := chi.NewRouter()
	r.Mount("/", api.Router())
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.HandlerFor(mtr.Registry(), promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: r,
	}
	go func() {
		log.WithField("addr", cfg.Server.Addr()).Info("read API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("read API server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancel()
	if err := svc.Stop(); err != nil {
		log.WithError(err).Error("stop indexer service")
	}
}

func runMigrations(dsn string) error {
	db, err := database.Open(context.Background(), dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.Apply(db)
}
