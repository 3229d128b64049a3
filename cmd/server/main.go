package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/palaverhq/palaver/internal/app"
)

func main() {
	log.SetPrefix("[PALAVER] ")

	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
