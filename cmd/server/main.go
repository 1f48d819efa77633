package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stratochat/stratochat/internal/config"
	"github.com/stratochat/stratochat/internal/db"
	"github.com/stratochat/stratochat/internal/httpapi"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/models"
	"github.com/stratochat/stratochat/internal/store/rabbitmq"
	"github.com/stratochat/stratochat/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("starting stratochat api")

	gdb := db.Connect(cfg.DBDSN)
	kvs := kv.New(gdb, models.Tables()...)
	if err := kvs.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	if err := rds.Ping(context.Background()); err != nil {
		// limits just bypass the cache while redis is down
		log.Warn().Err(err).Msg("redis unreachable, limits cache disabled")
		rds = nil
	}

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unreachable, assistant replies disabled")
		rabbit = nil
	} else {
		defer rabbit.Close()
	}

	router := httpapi.NewRouter(kvs, cfg, rds, rabbit)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
