package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/emilythestrangee/memories/backend/internal/auth"
	"github.com/emilythestrangee/memories/backend/internal/config"
	"github.com/emilythestrangee/memories/backend/internal/database"
	"github.com/emilythestrangee/memories/backend/internal/events"
	"github.com/emilythestrangee/memories/backend/internal/handlers"
	"github.com/emilythestrangee/memories/backend/internal/logging"
	"github.com/emilythestrangee/memories/backend/internal/metrics"
	"github.com/emilythestrangee/memories/backend/internal/server"
	"github.com/emilythestrangee/memories/backend/internal/store"
	"github.com/emilythestrangee/memories/backend/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	log := logging.New(cfg.LogLevel, cfg.IsProduction())
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, cfg.OTELEndpoint, cfg.OTELServiceName, cfg.Env)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialise tracing")
	}

	st, db, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	publisher := openPublisher(cfg, log)
	defer publisher.Close()

	m := metrics.New()
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	handler := handlers.NewHandler(handlers.Deps{
		Store:          st,
		Tokens:         tokens,
		Google:         auth.NewGoogleVerifier(cfg.GoogleTokenInfoURL, nil),
		Publisher:      publisher,
		PublishTimeout: cfg.PublishTimeout,
		Metrics:        m,
		Logger:         log,
	})

	srv := server.New(server.Options{
		Store:       st,
		Database:    db,
		Tokens:      tokens,
		Handler:     handler,
		Metrics:     m,
		Logger:      log,
		CORSOrigins: cfg.CORSOrigins,
	}).HTTPServer("0.0.0.0:" + cfg.Port)

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "store": cfg.StoreDriver}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to flush traces")
	}
	log.Info("Server exited")
}

// openStore builds the configured store, with the Redis cache in front
// when REDIS_ADDR is set. The health reporter is nil for the memory driver.
func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (store.Store, server.HealthReporter, func()) {
	var (
		st      store.Store
		health  server.HealthReporter
		closers []func()
	)

	switch cfg.StoreDriver {
	case "memory":
		log.Warn("Using in-memory store; data is lost on restart")
		st = store.NewMemory()
	default:
		db, err := database.New(database.Options{
			DSN:     cfg.DB.DSN(),
			Verbose: !cfg.IsProduction(),
			Logger:  log,
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize database")
		}
		closers = append(closers, func() { db.Close() })
		st = store.NewPostgres(db.GetDB())
		health = db
	}

	if cfg.RedisAddr != "" {
		rdb, err := store.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, continuing without cache")
		} else {
			closers = append(closers, func() { rdb.Close() })
			st = store.NewCached(st, rdb, cfg.CacheTTL, log)
			log.WithField("addr", cfg.RedisAddr).Info("Post cache enabled")
		}
	}

	return st, health, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

func openPublisher(cfg *config.Config, log *logrus.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Noop{}
	}
	k, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	if err != nil {
		log.WithError(err).Warn("Kafka unavailable, post events disabled")
		return events.Noop{}
	}
	log.WithFields(logrus.Fields{"brokers": cfg.KafkaBrokers, "topic": cfg.KafkaTopic}).Info("Publishing post events")
	return k
}
