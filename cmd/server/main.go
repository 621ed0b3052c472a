package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"roomhub/internal/app"
	"roomhub/internal/chat"
	"roomhub/internal/config"
	"roomhub/internal/notify"
	"roomhub/internal/ratelimit"
	"roomhub/internal/server"
	"roomhub/internal/usertoken"
	"roomhub/internal/util"
	"roomhub/pkg/storage"
	"roomhub/pkg/store"
	"roomhub/pkg/stream"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.Fatal("load config", "error", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("init postgres store", "error", err)
	}
	if err := store.EnsurePermissions(ctx, dataStore); err != nil {
		util.Fatal("seed permissions", "error", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		util.Fatal("connect redis", "addr", cfg.RedisAddr, "error", err)
	}
	streams := stream.NewRedisStream(redisClient, stream.WithMaxLen(cfg.StreamMaxLen))

	limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "roomhub:chat", cfg.ChatMessagesPerSec, time.Second)
	if err != nil {
		util.Fatal("init rate limiter", "error", err)
	}

	var notifier notify.Publisher = notify.Nop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue, logger)
		if err != nil {
			util.Fatal("connect amqp", "error", err)
		}
		defer amqpPub.Close()
		notifier = amqpPub
	} else {
		logger.Warn("no amqp url configured, notifications disabled")
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("init object storage", "error", err)
		}
	} else {
		logger.Warn("no minio endpoint configured, attachments disabled")
	}

	appCore, err := app.New(app.Config{
		Store:    dataStore,
		Notifier: notifier,
		Objects:  objects,
		Logger:   logger,
	})
	if err != nil {
		util.Fatal("init app", "error", err)
	}

	broker, err := chat.NewBroker(chat.Config{
		App:          appCore,
		Streams:      streams,
		Limiter:      limiter,
		Logger:       logger,
		HistoryLimit: cfg.ChatHistoryLimit,
	})
	if err != nil {
		util.Fatal("init chat broker", "error", err)
	}

	tokenCfg := usertoken.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	verifier, err := usertoken.NewVerifier(tokenCfg)
	if err != nil {
		util.Fatal("init token verifier", "error", err)
	}
	issuer, err := usertoken.NewIssuer(tokenCfg, 0)
	if err != nil {
		util.Fatal("init token issuer", "error", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("parse trusted proxies", "error", err)
	}

	srv := server.New(server.Config{
		App:            appCore,
		Broker:         broker,
		TokenVerifier:  verifier,
		TokenIssuer:    issuer,
		TrustedProxies: trusted,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("server listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Invite sweeper: the lazy read-path expiration converges with this
	// periodic set-wise pass.
	group.Go(func() error {
		ticker := time.NewTicker(cfg.InviteSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := appCore.ExpirePendingInvites(ctx); err != nil {
					logger.Error("invite sweep failed", "error", err)
				}
			}
		}
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		util.Fatal("server exited", "error", err)
	}
	logger.Info("server stopped")
}
