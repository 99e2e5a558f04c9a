// Command server runs the front door: the single well-known socket
// that admits players and spawns lobbies.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bomberdude/internal/config"
	"bomberdude/internal/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.DefaultServerConfig()

	nodeID := flag.String("id", "", "node id (required)")
	level := flag.String("level", cfg.LogLevel, "log level: debug|info|warn|error")
	bind := flag.String("bind", cfg.BindAddr, "bind address")
	port := flag.Int("port", cfg.Port, "well-known port")
	capacity := flag.Int("capacity", cfg.Capacity, "players per lobby")
	configPath := flag.String("config", "", "optional YAML config overlay")
	flag.Parse()

	cfg.NodeID, cfg.BindAddr, cfg.Port, cfg.Capacity, cfg.LogLevel = *nodeID, *bind, *port, *capacity, *level
	if *configPath != "" {
		if err := config.LoadOverrides(*configPath, &cfg); err != nil {
			return err
		}
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("server: --id is required")
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	srv, err := server.New(cfg.BindAddr, cfg.Port, cfg.Capacity, cfg.CacheTTL, cfg.RetryEvery)
	if err != nil {
		return fmt.Errorf("server: opening front door: %w", err)
	}

	slog.Info("front door listening", "node", cfg.NodeID, "bind", cfg.BindAddr, "port", cfg.Port, "capacity", cfg.Capacity)
	return srv.Run(ctx)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
