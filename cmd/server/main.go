package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"ridedispatch/internal/app"
	"ridedispatch/internal/config"
	"ridedispatch/internal/handler"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/notify"
	internalRedis "ridedispatch/internal/redis"
	"ridedispatch/internal/repository/postgres"
	"ridedispatch/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
			nrApp = nil
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL", "driver", cfg.Database.Driver, "migrated", cfg.Database.Migrate)

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis", "addr", cfg.Redis.Addr)

	notifier, sessions, closeSinks := wireNotifier(cfg.Notifier, logger)
	defer closeSinks()

	server, dispatcher, sweeper := wireServer(db, redisClient, nrApp, cfg, logger, notifier, sessions)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	if cfg.Sweeper.Enabled {
		go sweeper.Run(runCtx)
		logger.Info("reservation sweeper started", "interval", cfg.Sweeper.Interval, "ttl", cfg.Sweeper.ReservationTTL)
	}

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	stopRun()
	sessions.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	dispatcher.Wait()

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
}

// wireNotifier builds the outcome fan-out. Kafka and RabbitMQ are enabled by
// configuration; the log and websocket sinks are always on.
func wireNotifier(cfg config.NotifierConfig, logger *slog.Logger) (*notify.Multi, *notify.SessionRegistry, func()) {
	sessions := notify.NewSessionRegistry()
	multi := notify.NewMulti(logger,
		notify.Sink{Name: "log", Notifier: notify.NewLogNotifier(logger)},
		notify.Sink{Name: "ws", Notifier: sessions},
	)

	var closers []func() error

	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		multi.Add("kafka", kafkaPub)
		closers = append(closers, kafkaPub.Close)
		logger.Info("kafka notifier enabled", "topic", cfg.KafkaTopic)
	}

	if cfg.AMQPURL != "" {
		amqpPub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// Outcome delivery is best effort; dispatch runs without it.
			logger.Warn("rabbitmq notifier disabled", "error", err)
		} else {
			multi.Add("amqp", amqpPub)
			closers = append(closers, amqpPub.Close)
			logger.Info("rabbitmq notifier enabled", "exchange", cfg.AMQPExchange)
		}
	}

	return multi, sessions, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("notifier close failed", "error", err)
			}
		}
	}
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	cfg *config.Config,
	logger *slog.Logger,
	notifier notify.Notifier,
	sessions *notify.SessionRegistry,
) (*http.Server, *service.DispatchService, *service.ReservationSweeper) {
	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient, cfg.Redis.GeoKey)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)
	idempotencyStore := internalRedis.NewIdempotencyStore(redisClient)

	// Initialize repositories.
	rideRepo := postgres.NewRideRepository(db)
	availabilityRepo := postgres.NewAvailabilityRepository(db)

	// Initialize services.
	dispatchService := service.NewDispatchService(rideRepo, availabilityRepo, locationStore, notifier, logger, service.DispatchConfig{
		MaxCandidates:       cfg.Dispatch.MaxCandidates,
		MaxRadiusMeters:     cfg.Dispatch.MaxRadiusMeters,
		Timeout:             cfg.Dispatch.Timeout,
		CompensationTimeout: cfg.Dispatch.CompensationTimeout,
	})
	rideService := service.NewRideService(rideRepo, cacheStore, notifier, logger)
	driverService := service.NewDriverService(locationStore, availabilityRepo, logger)
	sweeper := service.NewReservationSweeper(availabilityRepo, lockStore, logger, service.SweeperConfig{
		Interval:       cfg.Sweeper.Interval,
		ReservationTTL: cfg.Sweeper.ReservationTTL,
	})

	// Initialize handlers.
	rideHandler := handler.NewRideHandler(dispatchService, rideService)
	driverHandler := handler.NewDriverHandler(driverService)
	sessionHandler := handler.NewSessionHandler(sessions, logger)

	router := app.NewRouter(app.RouterDeps{
		RideHandler:      rideHandler,
		DriverHandler:    driverHandler,
		SessionHandler:   sessionHandler,
		IdempotencyStore: idempotencyStore,
		NewRelicApp:      nrApp,
		Logger:           logger,
		HealthCheck: func(c *gin.Context) error {
			if err := db.PingContext(c.Request.Context()); err != nil {
				return err
			}
			return redisClient.Ping(c.Request.Context()).Err()
		},
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, dispatchService, sweeper
}
