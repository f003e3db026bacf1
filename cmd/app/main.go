package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bot-gambar/internal/cache"
	"bot-gambar/internal/config"
	"bot-gambar/internal/convo"
	"bot-gambar/internal/httpserver"
	"bot-gambar/internal/imgapi"
	"bot-gambar/internal/intent"
	"bot-gambar/internal/logging"
	"bot-gambar/internal/metrics"
	"bot-gambar/internal/nlu"
	"bot-gambar/internal/repo"
	"bot-gambar/internal/wa"
	"bot-gambar/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting bot-gambar", "env", cfg.AppEnv)

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repository repo.Repository
	if cfg.DatabaseURL != "" {
		repository, err = repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
	} else {
		repository, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("migrations applied")

	redisCache := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer redisCache.Close()

	// The offerings cache is an optimisation; a dead Redis degrades to
	// repository reads instead of blocking startup.
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, continuing without cache", "error", err)
		redisCache = nil
	}

	chatModel := nlu.New(nlu.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.ChatModel,
		Timeout: cfg.ChatTimeout,
	}, logger, metricRegistry)

	imageProvider := imgapi.New(imgapi.Config{
		BaseURL: cfg.ImageAPIBaseURL,
		APIKey:  cfg.ImageAPIKey,
		Size:    cfg.ImageSize,
		Timeout: cfg.ImageTimeout,
	}, logger, metricRegistry)

	sender := wa.New(wa.Config{
		BaseURL:       cfg.WhatsAppAPIBaseURL,
		AccessToken:   cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		Timeout:       cfg.WhatsAppTimeout,
	}, logger, metricRegistry)

	engine := convo.New(repository, chatModel, imageProvider, sender, redisCache, metricRegistry, logger, intent.DefaultKeywords(), convo.EngineConfig{
		HistoryLimit: cfg.HistoryLimit,
	})

	webhook := wa.NewWebhookHandler(logger, metricRegistry, cfg.WhatsAppVerifyToken, engine)

	server := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		WhatsAppWebhook: webhook,
	}, cfg.PublicBasePath)
	server.SetDependencies(httpserver.Dependencies{
		Repository: repository,
		Redis:      redisCache,
		Engine:     engine,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	logger.Info("bot-gambar stopped")
	return nil
}
