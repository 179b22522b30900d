package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"parkwise/internal/api"
	"parkwise/internal/availability"
	"parkwise/internal/clock"
	"parkwise/internal/config"
	"parkwise/internal/database"
	"parkwise/internal/domain"
	"parkwise/internal/events"
	"parkwise/internal/feed"
	"parkwise/internal/logging"
	"parkwise/internal/metrics"
	"parkwise/internal/occupancy"
	"parkwise/internal/payment"
	"parkwise/internal/predictor"
	"parkwise/internal/registry"
	"parkwise/internal/report"
	"parkwise/internal/repository"
	"parkwise/internal/service"
	"parkwise/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	logger := logging.Component(base, "api-main")
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, base, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	clk := clock.NewRealClock()
	bus := events.NewEventBus()

	reg, err := initRegistry(ctx, cfg, db, bus, base, logger)
	if err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, logger)
	defer func() { _ = repository.Close(redisClient) }()
	cache := initCache(cfg, redisClient, base)

	var pred domain.Predictor
	if cfg.Predictor.Enabled {
		pred = predictor.NewClient(cfg.Predictor, base)
	}
	agg := availability.New(reg, bus, pred, cache, availability.Config{CacheTTL: cfg.Predictor.CacheTTL}, clk, base)

	payments, err := payment.NewGateway(cfg.Payment, base)
	if err != nil {
		return fmt.Errorf("init payments: %w", err)
	}

	bookings := service.NewBookingService(db, reg, payments, bus, clk, service.BookingConfig{
		HoldGrace:          cfg.Booking.HoldGrace,
		MaxDurationMinutes: cfg.Booking.MaxDurationMinutes,
	}, base)
	vehicles := service.NewVehicleService(db, base)

	ingestor := occupancy.NewIngestor(occupancy.Config{
		Window:        cfg.Occupancy.Window,
		Policy:        cfg.Occupancy.Policy,
		MinConfidence: cfg.Occupancy.MinConfidence,
		MinDwell:      cfg.Occupancy.MinDwell,
	}, reg, db, db, bus, base)

	startMetrics(ctx, cfg, logger)

	var wg sync.WaitGroup
	startBackground(ctx, &wg, cfg, db, bookings, base)

	pool := worker.NewIngestPool(ingestor, cfg.Feed.Workers, cfg.Feed.QueueSize, base)
	pool.Start(ctx)
	defer pool.Stop()

	stopFeed, err := startFeed(cfg, pool, base, logger)
	if err != nil {
		return err
	}
	defer stopFeed()

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Slots:        reg,
		Availability: agg,
		Bookings:     bookings,
		Vehicles:     vehicles,
		Ingestor:     ingestor,
		Anomalies:    db,
		Reports:      report.NewExporter(db, db, cfg.Exports.Path, base),
		Quota:        cache,
		Health:       db,
		Clock:        clk,
	}, base)

	err = serve(ctx, httpServer, cfg, logger)
	stop()
	wg.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, baseLogger, closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, base, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, base)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SyncFacilities(ctx, cfg.Facilities); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync facilities: %w", err)
	}
	logger.Info().Int("facilities", len(cfg.Facilities)).Msg("facility catalogue synced")
	return db, nil
}

// initRegistry rebuilds slot state from the store and the active bookings.
func initRegistry(ctx context.Context, cfg *config.Config, db *database.DB, bus *events.EventBus, base, logger *zerolog.Logger) (*registry.Registry, error) {
	reg := registry.New(cfg.Facilities, db, bus, base)

	slots, err := db.ListSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	active, err := db.ListActiveBookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active bookings: %w", err)
	}

	restored := reg.Recover(slots, active)
	logger.Info().Int("slots", restored).Int("active_bookings", len(active)).Msg("slot state recovered")
	return reg, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, starting with in-memory fallback")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

// initCache always returns a usable store; redis is preferred when configured.
func initCache(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) repository.Store {
	retention := 4 * cfg.Predictor.CacheTTL
	memory := repository.NewMemoryCache(retention)
	if client == nil {
		return memory
	}
	return repository.NewFailoverCache(repository.NewRedisCache(client, cfg.Redis.KeyPrefix, retention), memory, logger)
}

func startBackground(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, db *database.DB, bookings *service.BookingService, logger *zerolog.Logger) {
	sweeper := worker.NewHoldSweeper(bookings, cfg.Booking.SweepInterval, worker.DefaultRetryPolicy, logger)
	backups := database.NewBackupService(db, cfg.Backup, logger)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		backups.Start(ctx)
	}()
}

// startFeed connects the detection subscriber, starting an embedded NATS
// server first when configured. The returned func stops both.
func startFeed(cfg *config.Config, pool *worker.IngestPool, base, logger *zerolog.Logger) (func(), error) {
	if !cfg.Feed.Enabled {
		return func() {}, nil
	}

	url := cfg.Feed.URL
	var embedded *feed.EmbeddedServer
	if cfg.Feed.Embedded {
		srv, err := feed.NewEmbeddedServer(cfg.Feed.Port)
		if err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		embedded = srv
		url = srv.ClientURL()
		logger.Info().Str("url", url).Msg("embedded nats server started")
	}

	sub := feed.NewSubscriber(cfg.Feed, pool, base)
	if err := sub.Start(url); err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, fmt.Errorf("subscribe detection feed: %w", err)
	}

	return func() {
		sub.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
	}, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("http server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return serveErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
