package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pin-ad-studio/internal/app"
	"pin-ad-studio/internal/compositor"
	"pin-ad-studio/internal/config"
	"pin-ad-studio/internal/handlers"
	"pin-ad-studio/internal/mediagroup"
	"pin-ad-studio/internal/presets"
	"pin-ad-studio/internal/session"
	"pin-ad-studio/internal/telegram"
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
	httpClient := app.NewHTTPClient(cfg)

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	pipe, err := app.NewPipeline(cfg, logger)
	if err != nil {
		logger.Error("pipeline init failed", "err", err)
		os.Exit(1)
	}

	list, err := presets.Load(cfg.PresetsPath)
	if err != nil {
		logger.Error("presets load failed", "path", cfg.PresetsPath, "err", err)
		os.Exit(1)
	}
	catalog := presets.NewCatalog(list)

	sessions := session.NewStore(session.Options{
		TTL: cfg.SessionTTL,
		Defaults: session.Settings{
			Placement: compositor.Placement{X: cfg.DefaultX, Y: cfg.DefaultY, Scale: cfg.DefaultScale},
		},
	})

	handler := handlers.New(handlers.Options{
		Telegram: tg,
		Pipeline: pipe,
		Sessions: sessions,
		Presets:  catalog,
		MinScale: cfg.MinScale,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := presets.Watch(ctx, cfg.PresetsPath, catalog, logger); err != nil {
		logger.Warn("presets hot reload disabled", "err", err)
	}

	go func() {
		ticker := time.NewTicker(cfg.SessionTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.Sweep(); n > 0 {
					logger.Debug("expired sessions removed", "count", n)
				}
			}
		}
	}()

	// run bounds in-flight work; it blocks while MaxConcurrent jobs are busy.
	sem := make(chan struct{}, cfg.MaxConcurrent)
	run := func(job func(ctx context.Context)) bool {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return false
		}
		go func() {
			defer func() { <-sem }()
			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()
			job(reqCtx)
		}()
		return true
	}

	handler.SetMediaGroupAggregator(mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush: func(group mediagroup.Group) {
			run(func(ctx context.Context) { handler.HandleMediaGroup(ctx, group) })
		},
	}))

	logger.Info("bot started", "username", tg.Username(), "presets", len(list), "rembg", cfg.RembgProvider)

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			ok = run(func(ctx context.Context) {
				if err := handler.HandleUpdate(ctx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "update_id", update.UpdateID, "err", err)
				}
			})
			if !ok {
				return
			}
		}
	}
}
