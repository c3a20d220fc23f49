// cmd/bot/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vip-bot/config"
	"vip-bot/internal/access"
	"vip-bot/internal/bot"
	"vip-bot/internal/cache"
	"vip-bot/internal/db"
	"vip-bot/internal/ocr"
	"vip-bot/internal/payment"
	"vip-bot/internal/server"
	"vip-bot/internal/storage"
	"vip-bot/internal/supabase"
	"vip-bot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	l, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	l.Info("Starting VIP access bot...")

	if err := cfg.Validate(); err != nil {
		l.Fatalw("Invalid configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, restClient, closeStore := openStore(cfg, l)
	defer closeStore()

	screenshots, err := openStorage(ctx, cfg, restClient, l)
	if err != nil {
		l.Fatalw("Failed to set up screenshot storage", "error", err)
	}

	stateCache, err := openCache(ctx, cfg.Redis, l)
	if err != nil {
		l.Fatalw("Failed to connect to redis", "error", err)
	}
	defer stateCache.Close()

	var extractor payment.Extractor = ocr.Nop{}
	if cfg.OCR.APIKey != "" {
		extractor = ocr.NewClient(cfg.OCR.APIKey).WithModel(cfg.OCR.Model)
	} else {
		l.Warn("OCR API key is not configured, every screenshot goes to manual review")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		l.Fatalw("Failed to create Telegram bot", "error", err)
	}
	api.Debug = cfg.Telegram.Debug
	l.Infow("Authorized on Telegram", "username", api.Self.UserName)

	if len(cfg.Moderators.IDs) == 0 {
		l.Warn("No moderator chat IDs configured, manual reviews will not be delivered")
	}

	amount, _ := cfg.Payment.Price()
	svc := payment.NewService(payment.Deps{
		Store:     store,
		Notifier:  bot.NewNotifier(api, cfg.Moderators.IDs, l),
		Storage:   screenshots,
		Extractor: extractor,
		Deduper:   stateCache,
		Links:     access.NewGenerator(cfg.Payment.AccessBaseURL, cfg.Payment.AccessTTL),
	}, payment.Config{
		Amount:                amount,
		Currency:              cfg.Payment.Currency,
		Window:                cfg.Payment.Window,
		AutoApproveConfidence: cfg.Payment.AutoApproveConfidence,
		DedupeTTL:             cfg.Payment.DedupeTTL,
	}, l)

	stripeClient := payment.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.PriceID)

	registry := newRegistry(cfg)
	l.Infow("Webhook providers registered", "providers", registry.Names())

	telegramBot := bot.NewTelegramBot(bot.Deps{
		API:      api,
		Self:     api.Self,
		Service:  svc,
		Cache:    stateCache,
		Checkout: stripeClient,
	}, bot.Config{
		Amount:            amount,
		Currency:          cfg.Payment.Currency,
		Window:            cfg.Payment.Window,
		AccessTTL:         cfg.Payment.AccessTTL,
		ScreenshotWaitTTL: cfg.Payment.ScreenshotWaitTTL,
		SupportContact:    cfg.Payment.SupportContact,
		Requisites:        cfg.Payment.Requisites,
		Moderators:        cfg.Moderators.IDs,
	}, l)

	l.Info("Starting Telegram bot...")
	if err := telegramBot.Start(ctx); err != nil {
		l.Fatalw("Failed to start Telegram bot", "error", err)
	}

	httpServer := server.NewServer(cfg.Server, newWebhookHandler(registry, svc, l), l)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down bot...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// HTTP server first so no webhook lands on a stopping service.
	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}

	if err := telegramBot.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during bot shutdown", "error", err)
	}
	cancel()

	l.Info("Bot stopped successfully")
}

func newLogger(cfg config.LogConfig) (*logger.Logger, error) {
	if cfg.Development {
		return logger.NewDevelopment(), nil
	}
	return logger.New(cfg.Level)
}

func openStore(cfg *config.Config, l *logger.Logger) (payment.Store, *supabase.Client, func()) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		var (
			database *db.PostgresDB
			err      error
		)
		maxRetries := 5
		for i := 0; i < maxRetries; i++ {
			database, err = db.NewPostgresDB(cfg.DB)
			if err == nil {
				break
			}
			l.Errorw("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
			time.Sleep(time.Duration(i+1) * time.Second)
		}
		if database == nil {
			l.Fatalw("Failed to connect to database after multiple attempts", "error", err)
		}
		l.Info("Using Postgres record store")
		return database, nil, database.Close

	default:
		client, err := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey, cfg.Supabase.Timeout)
		if err != nil {
			l.Fatalw("Failed to create record store client", "error", err)
		}
		l.Info("Using REST record store")
		return supabase.NewStore(client), client, func() {}
	}
}

func openStorage(ctx context.Context, cfg *config.Config, restClient *supabase.Client, l *logger.Logger) (payment.Storage, error) {
	if cfg.Storage.Driver == config.StorageS3 {
		s3, err := storage.NewS3Storage(storage.Config{
			Endpoint:      cfg.Storage.Endpoint,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			Bucket:        cfg.Storage.Bucket,
			UseSSL:        cfg.Storage.UseSSL,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s3.EnsureBucket(ensureCtx); err != nil {
			l.Warnw("Failed to ensure screenshot bucket, uploads will retry", "bucket", cfg.Storage.Bucket, "error", err)
		}
		return s3, nil
	}

	if restClient == nil {
		return nil, errors.New("record store object storage requires the rest store driver")
	}
	return supabase.NewStorage(restClient, cfg.Supabase.Bucket), nil
}

func openCache(ctx context.Context, cfg config.RedisConfig, l *logger.Logger) (cache.Cache, error) {
	if cfg.Addr == "" {
		l.Info("Redis is not configured, keeping bot state in memory")
		mem := cache.NewMemory()
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := mem.Sweep(); n > 0 {
						l.Debugw("Swept expired cache entries", "count", n)
					}
				}
			}
		}()
		return mem, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return cache.NewRedis(connectCtx, cfg.Addr, cfg.Password, cfg.DB)
}
