package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldtrace/mediasync/internal/agent"
	"github.com/fieldtrace/mediasync/internal/agent/config"
	"github.com/fieldtrace/mediasync/internal/logging"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	svc, err := agent.NewService(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := svc.Start(ctx); err != nil {
		log.Printf("%v", err)
		return
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-sigs

	svc.Stop()
}
