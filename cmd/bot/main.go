package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"image-prompt-creator/internal/app"
	"image-prompt-creator/internal/config"
	"image-prompt-creator/internal/handlers"
	"image-prompt-creator/internal/httpclient"
	"image-prompt-creator/internal/session"
	"image-prompt-creator/internal/state"
	"image-prompt-creator/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "event", "startup_failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	tg, err := telegram.New(telegram.Options{
		Token: cfg.TelegramToken,
		HTTPClient: httpclient.New(httpclient.Options{
			PreferIPv4: cfg.PreferIPv4,
			Timeout:    cfg.HTTPTimeout,
		}),
		Logger: logger,
		Debug:  cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "event", "telegram_init_failed", "error", err)
		os.Exit(1)
	}

	handler := handlers.New(handlers.Options{
		Telegram: tg,
		Service:  a.Service,
		States: state.NewStore(state.Options{
			Rows:  cfg.App.DefaultRowNum,
			Dedup: cfg.App.DeduplicatePrompts,
		}),
		History: session.NewStore(session.Options{MaxEntries: cfg.HistorySize}),
		Logger:  logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.WatchPresets(gctx)
	})
	g.Go(func() error {
		return serve(gctx, cfg, tg, handler, a)
	})
	if err := g.Wait(); err != nil {
		logger.Error("bot stopped", "event", "bot_stopped", "error", err)
		os.Exit(1)
	}
}

var errUpdatesClosed = errors.New("updates channel closed")

func serve(ctx context.Context, cfg config.Config, tg *telegram.Client, handler *handlers.Handler, a *app.App) error {
	logger := a.Logger
	logger.Info("bot started", "event", "bot_started", "username", tg.Username(), "llm_enabled", a.Service.LLMEnabled())

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	sem := make(chan struct{}, cfg.MaxConcurrent)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "event", "shutdown")
			return nil
		case update, ok := <-updates:
			if !ok {
				return errUpdatesClosed
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "event", "update_failed", "error", err)
				}
			}(update)
		}
	}
}
