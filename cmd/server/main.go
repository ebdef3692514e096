package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/auth/jwtverifier"
	"github.com/nimbuschat/realtime/internal/broadcaster"
	"github.com/nimbuschat/realtime/internal/bus"
	"github.com/nimbuschat/realtime/internal/cache"
	"github.com/nimbuschat/realtime/internal/config"
	handler "github.com/nimbuschat/realtime/internal/delivery/http"
	"github.com/nimbuschat/realtime/internal/digestion"
	"github.com/nimbuschat/realtime/internal/notify"
	"github.com/nimbuschat/realtime/internal/observer"
	"github.com/nimbuschat/realtime/internal/presence"
	"github.com/nimbuschat/realtime/internal/repository/postgres"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("starting realtime core server")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to postgresql", zap.Error(err))
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping postgresql", zap.Error(err))
	}
	logger.Info("connected to postgresql")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("failed to parse redis url", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	gateway, err := bus.NewRabbitGateway(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer gateway.Close()
	logger.Info("connected to rabbitmq")

	verifier := jwtverifier.New(cfg.Auth.HMACSecret)

	tailCache := cache.NewRedisTailCache(rdb, cfg.Realtime.TailCacheLimit)
	messageRepo := postgres.NewMessageRepo(dbPool)
	userRepo := postgres.NewUserRepo(dbPool)
	membershipRepo := postgres.NewMembershipRepo(dbPool)

	broker := digestion.NewBroker(messageRepo, cfg.Realtime.BatchSize, cfg.Realtime.FlushInterval, logger)
	go broker.Run(ctx)

	room := broadcaster.New(gateway, tailCache, broker, membershipRepo, userRepo, messageRepo, cfg.Realtime.SlowClientTimeout, logger)

	registry := presence.New(tailCache, cfg.Realtime.HeartbeatExpiry, logger)
	go registry.RunWatchdog(ctx, cfg.Realtime.HeartbeatInterval)

	dispatcher := notify.New(registry, logger)

	obs := observer.New(room, registry, broker, logger)
	go obs.Run(ctx, cfg.Observer.Interval)

	router := handler.NewRouter(&handler.RouterDeps{
		Verifier:        verifier,
		Broadcaster:     room,
		Presence:        registry,
		Observer:        obs,
		Dispatcher:      dispatcher,
		Tail:            tailCache,
		ChannelStore:    messageRepo,
		Users:           userRepo,
		Logger:          logger,
		RateLimitPerMin: cfg.Server.RateLimit,
		DBPool:          dbPool,
		AmqpURI:         cfg.RabbitMQ.URL,
		Redis:           rdb,
		ObserverToken:   cfg.Observer.BearerToken,
		NotifyToken:     cfg.Notify.ServiceToken,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("realtime core listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down realtime core server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("realtime core server stopped")
}
