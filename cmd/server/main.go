package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/nats-io/nats.go"

	"github.com/0rooe/chat/internal"
	"github.com/0rooe/chat/presence"
	"github.com/0rooe/chat/repositories"
	"github.com/0rooe/chat/router"
	"github.com/0rooe/chat/runtime/workers"
	"github.com/0rooe/chat/searchindex"
	"github.com/0rooe/chat/services"
	"github.com/0rooe/chat/transport"

	chatbus "github.com/0rooe/chat/bus"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Deferred cleanups (database close, index flush) execute before the process
// exits, and the initialization logic stays testable outside main.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx := context.Background()

	// 2. Storage (BadgerDB + Bluge)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are flushed before the function returns.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. NATS connection & JetStream bus
	natsOpts := []nats.Option{
		nats.Name("chat-server"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if config.NatsTimeout > 0 {
		natsOpts = append(natsOpts, nats.Timeout(config.NatsTimeout))
	}
	nc, err := nats.Connect(config.NatsURL, natsOpts...)
	if err != nil {
		return exitRuntime, fmt.Errorf("NATS connection failed: %w", err)
	}
	defer func() {
		logger.Info("Draining NATS connection...")
		_ = nc.Drain()
	}()

	eventBus, err := chatbus.NewJetStream(ctx, nc, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("JetStream setup failed: %w", err)
	}

	// 4. Core components
	registry := presence.NewRegistry(logger, config.SignalBufferSize)
	store := repositories.NewMessageStore(db, logger, config.RecallWindow)
	index := searchindex.New(blugeWriter, logger)
	pusher := transport.NewNATSPusher(nc, logger)
	messageRouter := router.New(logger, store, eventBus, registry, pusher)
	chatService := services.NewChatService(logger, store, eventBus, index)
	ingress := transport.NewIngress(logger, nc, messageRouter)
	api := transport.NewServiceIngress(logger, nc, chatService)

	// 5. Supervision
	sup := workers.NewSupervisor(logger)
	sup.Add(
		ingress,
		api,
		workers.NewHeartbeatWorker(logger, registry, config.SweepInterval, config.OfflineThreshold),
		workers.NewStatusWorker(logger, eventBus, store),
		workers.NewSearchProjectionWorker(logger, eventBus, index),
		workers.NewPresenceNotifierWorker(logger, eventBus, registry.Signals()),
		workers.NewHealthWorker(logger, registry, config.MetricInterval),
	)

	// 6. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting chat routing core", "nats_url", config.NatsURL, "at", time.Now().UTC())
	sup.Run(ctx)

	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
