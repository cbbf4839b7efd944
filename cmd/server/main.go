package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/fieldtrace/mediasync/internal/logging"
	"github.com/fieldtrace/mediasync/internal/server"
	"github.com/fieldtrace/mediasync/internal/server/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	app, err := server.NewApp(cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}
