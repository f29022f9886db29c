package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sisteq/segauth/internal/auth"
	"github.com/sisteq/segauth/internal/config"
	"github.com/sisteq/segauth/internal/httpapi"
	"github.com/sisteq/segauth/internal/obs"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.InitLogger(os.Stderr, "info")
		obs.Logger().Fatal().Err(err).Msg("load config")
	}

	obs.InitLogger(os.Stdout, cfg.LogLevel)
	obs.Init()
	log := obs.Logger()

	if cfg.PGDSN == "" {
		log.Fatal().Msg("SEGAUTH_PG_DSN is required")
	}
	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := auth.NewPGStore(db)
	resolver, err := auth.NewResolver(store, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("new resolver")
	}
	issuer, err := auth.NewIssuer(cfg.TokenSecret, cfg.Issuer, cfg.AccessTTL, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("new issuer")
	}
	refresh, err := auth.NewRefreshManager(store, cfg.RefreshTTL, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("new refresh manager")
	}
	defaultMode, err := auth.ParseMode(cfg.DefaultMode)
	if err != nil {
		log.Fatal().Err(err).Msg("parse default mode")
	}
	dispatcher, err := auth.NewDispatcher(auth.DispatcherConfig{DefaultMode: defaultMode}, store, resolver, issuer, refresh, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("new dispatcher")
	}

	api := httpapi.New(dispatcher, refresh, issuer, httpapi.ReadyProbe{DB: db}, httpapi.Options{
		MaxBodyBytes:       cfg.MaxBodyBytes,
		RateLimitBurst:     cfg.RateLimitBurst,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
	}, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Periodically purge expired refresh token rows.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := refresh.SweepExpired(sweepCtx); err != nil {
					log.Error().Err(err).Msg("sweep expired refresh tokens")
				}
			}
		}
	}()

	log.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting segauth-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Info().Msg("stopped")
}
