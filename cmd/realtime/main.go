package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"motorbay/internal/app"
	"motorbay/internal/config"
	"motorbay/internal/ratelimit"
	"motorbay/internal/realtime"
	"motorbay/internal/server"
	"motorbay/internal/usertoken"
	"motorbay/internal/util"
	"motorbay/pkg/storage"
	"motorbay/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	markers := store.NewRedisReadMarkerStore(cfg.RedisAddr, cfg.RedisPassword)

	hub := realtime.NewHub()
	var bridge realtime.EventPublisher
	if cfg.AMQPURL != "" {
		amqpBridge, err := realtime.NewAMQPBridge(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("failed to init amqp bridge: %v", err)
		}
		defer amqpBridge.Close()
		bridge = amqpBridge
	}
	dispatcher := realtime.NewDispatcher(hub, bridge)

	appCore, err := app.New(app.Config{
		Store:      db,
		Markers:    markers,
		Dispatcher: dispatcher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var attachments storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init attachment storage: %v", err)
		}
		attachments = minioStore
	}

	var sendLimiter *ratelimit.FixedWindowLimiter
	if cfg.SendRatePerMin > 0 {
		sendLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "motorbay:sendlimit", cfg.SendRatePerMin, time.Minute)
		if err != nil {
			log.Fatalf("failed to init send limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Hub:            hub,
		TokenVerifier:  tokenVerifier,
		Attachments:    attachments,
		SendLimiter:    sendLimiter,
		AllowedOrigins: cfg.WSAllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket writes manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("realtime server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
