// Command client runs one player's connection: the join handshake and
// the wired or mobile-mode steady-state loops.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"bomberdude/internal/client"
	"bomberdude/internal/config"
	"bomberdude/internal/mcast"
)

const dtnPort = 9998

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
	cfg := config.DefaultClientConfig()

	nodeID := flag.String("id", "", "node id (required)")
	address := flag.String("address", "", "authority address (required in wired mode)")
	gatewayAddr := flag.String("gateway", "", "gateway address; presence selects mobile/DTN mode")
	level := flag.String("level", cfg.LogLevel, "log level: debug|info|warn|error")
	configPath := flag.String("config", "", "optional YAML config overlay")
	flag.Parse()

	cfg.NodeID, cfg.Address, cfg.GatewayAddr, cfg.LogLevel = *nodeID, *address, *gatewayAddr, *level
	cfg.Mobile = cfg.GatewayAddr != ""
	if *configPath != "" {
		if err := config.LoadOverrides(*configPath, &cfg); err != nil {
			return err
		}
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("client: --id is required")
	}
	if !cfg.Mobile && cfg.Address == "" {
		return fmt.Errorf("client: --address is required in wired mode")
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	conn, err := net.ListenUDP("udp6", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("client: opening local socket: %w", err)
	}
	defer conn.Close()

	var mcastConn *mcast.Conn
	authorityHost := cfg.Address
	if cfg.Mobile {
		authorityHost = cfg.GatewayAddr
		mcastConn, err = mcast.Join(config.DefaultGatewayConfig().McastGroup, dtnPort, 3)
		if err != nil {
			return fmt.Errorf("client: joining DTN group: %w", err)
		}
		defer mcastConn.Close()
	}

	authorityAddr, err := net.ResolveUDPAddr("udp6", net.JoinHostPort(authorityHost, "9999"))
	if err != nil {
		return fmt.Errorf("client: resolving authority address: %w", err)
	}

	c := client.New(cfg.NodeID, conn, authorityAddr, mcastConn, cfg.CacheTTL, cfg.RetryEvery)

	slog.Info("joining", "node", cfg.NodeID, "authority", authorityAddr, "mobile", cfg.Mobile)
	if err := c.Join(ctx); err != nil {
		return fmt.Errorf("client: join failed: %w", err)
	}

	return c.Run(ctx)
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
