// beacond is the beacon daemon: it hosts agent sessions, connects the
// configured messaging channels, and serves the control-plane socket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loopwork/beacon/internal/config"
	"github.com/loopwork/beacon/internal/daemon"
)

const (
	exitOK      = 0
	exitStartup = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to the configuration file")
	socketPath := flag.String("socket", "", "Control socket path (wins over config and BEACON_SOCKET)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg := config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("configuration rejected", "path", *configPath, "error", err)
			return exitStartup
		}
		cfg = *loaded
	}

	level := resolveLevel(*logLevel, cfg.LogLevel)
	logs := daemon.NewLogBuffer(0)
	handler := daemon.NewRingHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}), logs)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	d, err := daemon.New(cfg, daemon.Options{
		ConfigPath: *configPath,
		SocketPath: *socketPath,
		Logger:     logger,
		Logs:       logs,
	})
	if err != nil {
		logger.Error("daemon init failed", "error", err)
		return exitStartup
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon exited with error", "error", err)
		return exitRuntime
	}
	return exitOK
}

// resolveLevel picks the log level: the flag wins over the config, and
// the default is info.
func resolveLevel(flagLevel, cfgLevel string) slog.Level {
	name := flagLevel
	if name == "" {
		name = cfgLevel
	}
	switch strings.ToLower(name) {
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
