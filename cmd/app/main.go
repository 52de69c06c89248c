package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"liquibot/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Baseline evaluation + subscriptions. A failed initial price fetch
	// is a startup failure: without a baseline there is nothing to monitor.
	ctrl := bootstrap.Controller
	if err := ctrl.Start(ctx); err != nil {
		slog.Error("❌ Controller start failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 5. Start the controller loop (single goroutine, owns all state)
	go ctrl.Run(ctx)
	slog.InfoContext(ctx, "✅ Trigger controller started", slog.String("mode", ctrl.Mode().String()))

	// 6. Connect the push feed; events buffer in the inbox until processed
	if err := bootstrap.Feed.Connect(ctx); err != nil {
		slog.Error("❌ Feed connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Feed.Disconnect()
	slog.InfoContext(ctx, "✅ Feed worker started")

	slog.InfoContext(ctx, "✨ Liquibot fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
