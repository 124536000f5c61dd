package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealdesk.org/internal/auth"
	"dealdesk.org/internal/config"
	"dealdesk.org/internal/crm"
	"dealdesk.org/internal/httpapi"
	"dealdesk.org/internal/obs"
	"dealdesk.org/internal/perimeter"
	"dealdesk.org/internal/store/pg"
	"dealdesk.org/internal/stream"
)

var version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load configuration")
	}

	obs.Init(cfg.LogLevel)
	obs.InitMetrics()
	obs.InitBuildInfo(version, os.Getenv("DEALDESK_COMMIT"))
	log := obs.Logger()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("refusing to start with invalid configuration")
	}

	// Storage: Postgres when a DSN is configured, in-memory otherwise.
	// Validate already guarantees a DSN in production.
	var (
		store   crm.Store
		pgStore *pg.Store
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("apply schema")
		}
		cancel()
		store = pgStore
		log.Info().Msg("using postgres store")
	} else {
		store = crm.NewInMemory()
		log.Warn().Msg("no pg_dsn configured, using in-memory store")
	}

	svc, err := crm.NewService(store)
	if err != nil {
		log.Fatal().Err(err).Msg("build service")
	}

	codec, err := auth.NewCodec(cfg.AuthSecret, cfg.TokenTTL())
	if err != nil {
		log.Fatal().Err(err).Msg("build token codec")
	}

	limiter := perimeter.NewLimiter(cfg.RatePerMinute, time.Minute)
	sweeperStop := limiter.StartSweeper(time.Minute)
	defer close(sweeperStop)

	guard := perimeter.NewGuard(perimeter.Config{
		Origins:     cfg.Origins(),
		Agents:      cfg.Agents(),
		CSRFEnabled: cfg.CSRFEnabled,
	}, limiter, perimeter.NewLoginThrottle(cfg.LoginRatePerMinute))

	events := stream.New()

	ready := httpapi.ReadyProbe{}
	if pgStore != nil {
		ready.DB = pgStore.DB()
	}

	api := httpapi.New(httpapi.Options{
		Service:       svc,
		Codec:         codec,
		Guard:         guard,
		Stream:        events,
		Ready:         ready,
		Version:       version,
		SecureCookies: cfg.IsProduction(),
		CSRFEnabled:   cfg.CSRFEnabled,
		TokenTTL:      cfg.TokenTTL(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting dealdesk-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Info().Msg("stopped")
}
