// Command iio-shell is an interactive client of iiod.
//
// It keeps a connection to the daemon, reconnecting with backoff when it
// is lost, and runs commands to inspect the context, read and write
// attributes, capture samples and wait for events.
//
// Usage:
//
//	iio-shell [flags]
//
// Flags:
//
//	-u string           Daemon URI: "ip:host[:port]", "ip:" to browse DNS-SD,
//	                    or "serial:/dev/ttyUSB0[,baud[,8n1]]" (default "ip:")
//	-legacy             Use the text protocol only
//	-timeout duration   Request timeout (default 5s)
//	-protocol-log file  Capture protocol events to a file
//	-log-level string   Log level: debug, info, warn, error (default "warn")
//
// Examples:
//
//	# Connect to the first daemon announced on the network
//	iio-shell
//
//	# Connect to a board with the text protocol
//	iio-shell -u ip:192.168.2.1 -legacy
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/iio-remote/iiod-go/cmd/iio-shell/interactive"
	"github.com/iio-remote/iiod-go/pkg/client"
	"github.com/iio-remote/iiod-go/pkg/connection"
	iiolog "github.com/iio-remote/iiod-go/pkg/log"
)

// Config holds the shell configuration.
type Config struct {
	URI         string
	Legacy      bool
	Timeout     time.Duration
	ProtocolLog string
	LogLevel    string
}

var config Config

func init() {
	flag.StringVar(&config.URI, "u", "ip:", "Daemon URI")
	flag.BoolVar(&config.Legacy, "legacy", false, "Use the text protocol only")
	flag.DurationVar(&config.Timeout, "timeout", client.DefaultTimeout, "Request timeout")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Capture protocol events to a file")
	flag.StringVar(&config.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "iio-shell: %v\n", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func run() error {
	if _, err := client.ParseURI(config.URI); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mcfg := connection.DefaultManagerConfig(config.URI)
	mcfg.Client.Timeout = config.Timeout
	mcfg.Client.Legacy = config.Legacy

	if config.ProtocolLog != "" {
		fl, err := iiolog.NewFileLoggerWithConfig(config.ProtocolLog, iiolog.FileLoggerConfig{Tool: "iio-shell"})
		if err != nil {
			return fmt.Errorf("failed to create protocol log: %w", err)
		}
		defer fl.Close()
		mcfg.Client.ProtocolLogger = fl
	}

	rl, err := interactive.NewReadline()
	if err != nil {
		return err
	}

	// log lines go through readline so that they do not break the prompt
	logger := slog.New(slog.NewTextHandler(rl.Stdout(), &slog.HandlerOptions{Level: parseLevel(config.LogLevel)}))
	mcfg.Logger = logger
	mcfg.Client.Logger = logger
	mcfg.OnConnected = func(c *client.Client) {
		logger.Info("Connected", "context", c.Context().Name, "binary", c.Binary())
	}
	mcfg.OnReconnecting = func(attempt int, delay time.Duration, err error) {
		logger.Warn("Connection failed", "attempt", attempt, "retry_in", delay, "error", err)
	}

	mgr := connection.NewManager(mcfg)
	shell := interactive.New(mgr, rl)

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	shell.Run(ctx, cancel)
	return <-done
}
