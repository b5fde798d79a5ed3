package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medlink-labs/consultkit/internal/devserver"
	"github.com/medlink-labs/consultkit/internal/logging"
)

func main() {
	var (
		addr      = flag.String("addr", "localhost:8080", "listen address")
		wsURL     = flag.String("ws-url", "", "websocket URL handed to clients (default ws://<addr>/ws)")
		logLevel  = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		logFormat = flag.String("log-format", "pretty", "log format (text, json, pretty)")
	)
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  *logLevel,
		Format: *logFormat,
	})

	server := devserver.NewServer(devserver.ServerOptions{
		Addr:         *addr,
		WebsocketURL: *wsURL,
		Logger:       logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
}
