// v0
// cmd/room-events/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"nrgchamp/room-events/internal/app"
	"nrgchamp/room-events/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("config_load_failed", slog.Any("err", err))
		return 1
	}

	application, err := app.New(cfg)
	if err != nil {
		bootstrap.Error("app_init_failed", slog.Any("err", err))
		return 1
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			bootstrap.Error("app_close_failed", slog.Any("err", cerr))
		}
	}()

	logger := application.Logger()
	logger.Info("service_boot",
		slog.String("properties_path", cfg.PropertiesPath),
		slog.String("brokers", strings.Join(cfg.Brokers, ",")),
		slog.String("topic", cfg.Topic),
		slog.String("transport", cfg.Transport),
		slog.String("delivery_policy", string(cfg.DeliveryPolicy)),
		slog.Duration("interval", cfg.Interval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("service_terminated", slog.Any("err", err))
		return 1
	}
	logger.Info("service_stopped")
	return 0
}
