package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/appyard/appyard/internal/infrastructure/config"
	"github.com/appyard/appyard/internal/infrastructure/server"
)

func main() {
	cfg := config.LoadOrDefault()

	port := flag.String("port", cfg.Server.Port, "HTTP listen port")
	host := flag.String("host", cfg.Server.Host, "HTTP listen host")
	dataDir := flag.String("data", cfg.Data.Dir, "Data directory for apps, runtimes, and caches")
	manifest := flag.String("manifest", cfg.Data.Manifest, "App catalog file")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (console logs, debug level)")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Server.Host = *host
	cfg.Data.Dir = *dataDir
	cfg.Data.Manifest = *manifest
	cfg.Logging.Development = *dev

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
