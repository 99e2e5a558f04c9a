// Command gateway runs a DTN relay node: multicast beaconing and a
// bidirectional proxy between the wireless overlay and the wired server.
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

	"bomberdude/internal/config"
	"bomberdude/internal/gateway"
	"bomberdude/internal/location"
	"bomberdude/internal/mcast"
)

const wiredPort = 9999

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
	cfg := config.DefaultGatewayConfig()

	nodeID := flag.String("id", "", "node id (required)")
	serverAddr := flag.String("address", "", "authoritative server address (required)")
	level := flag.String("level", cfg.LogLevel, "log level: debug|info|warn|error")
	x := flag.Float64("x", 0, "this gateway's fixed x coordinate")
	y := flag.Float64("y", 0, "this gateway's fixed y coordinate")
	configPath := flag.String("config", "", "optional YAML config overlay")
	flag.Parse()

	cfg.NodeID, cfg.ServerAddr, cfg.LogLevel = *nodeID, *serverAddr, *level
	if *configPath != "" {
		if err := config.LoadOverrides(*configPath, &cfg); err != nil {
			return err
		}
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("gateway: --id is required")
	}
	if cfg.ServerAddr == "" {
		return fmt.Errorf("gateway: --address is required")
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	wiredConn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: wiredPort})
	if err != nil {
		return fmt.Errorf("gateway: opening wired socket: %w", err)
	}
	defer wiredConn.Close()

	mcastConn, err := mcast.Join(cfg.McastGroup, cfg.McastPort, 3)
	if err != nil {
		return fmt.Errorf("gateway: joining DTN group: %w", err)
	}
	defer mcastConn.Close()

	srvAddr, err := net.ResolveUDPAddr("udp6", net.JoinHostPort(cfg.ServerAddr, "9999"))
	if err != nil {
		return fmt.Errorf("gateway: resolving server address: %w", err)
	}

	gw := gateway.New(cfg.NodeID, wiredConn, srvAddr, mcastConn, cfg.BeaconEvery, cfg.CacheTTL, cfg.RetryEvery)
	gw.SetPosition(location.Point{X: *x, Y: *y})

	slog.Info("gateway relay starting", "node", cfg.NodeID, "server", srvAddr, "mcast", cfg.McastGroup, "port", cfg.McastPort)
	return gw.Run(ctx)
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
