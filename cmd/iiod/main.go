// Command iiod serves an IIO context to remote clients.
//
// The context is either simulated or the one of another iiod, which
// iiod then proxies. Clients connect over TCP, a serial port or USB
// FunctionFS pipes.
//
// Usage:
//
//	iiod [flags]
//
// Flags:
//
//	-d                  Output debug log to the standard output
//	-D                  Demux channels directly on the server
//	-F string           Use the given FunctionFS mountpoint to serve over USB
//	-n int              Number of USB pipes (ep couples) to use (default 3)
//	-s string           Serve on the given UART, e.g. /dev/ttyGS0,115200,8n1
//	-p int              Port to listen on (default 30431), 0 disables TCP
//	-u string           Context to serve: "sim:", "sim:<file.yaml>", "ip:host"
//	                    or "serial:..." (default "sim:")
//	-no-dnssd           Do not advertise over DNS-SD
//	-name string        DNS-SD instance name
//	-config string      YAML configuration file; flags override its values
//	-protocol-log file  Capture protocol events to a file
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-V                  Display the version and quit
//
// Sending SIGUSR1 drops every client and sets the listeners up again.
// SIGUSR2 logs the connected clients.
//
// Examples:
//
//	# Serve the built-in simulated context
//	iiod -d
//
//	# Serve a custom simulated context on a serial gadget too
//	iiod -u sim:/etc/iiod/sim.yaml -s /dev/ttyGS0,115200
//
//	# Re-export a remote iiod
//	iiod -u ip:192.168.2.1 -p 30432
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/backend/sim"
	"github.com/iio-remote/iiod-go/pkg/client"
	iiolog "github.com/iio-remote/iiod-go/pkg/log"
	"github.com/iio-remote/iiod-go/pkg/service"
	"github.com/iio-remote/iiod-go/pkg/transport"
	"github.com/iio-remote/iiod-go/pkg/version"
)

// Config holds the daemon configuration. The YAML keys match the flag
// names.
type Config struct {
	Debug       bool   `yaml:"debug"`
	Demux       bool   `yaml:"demux"`
	FFS         string `yaml:"ffs"`
	NbPipes     int    `yaml:"nb-pipes"`
	Serial      string `yaml:"serial"`
	Port        int    `yaml:"port"`
	URI         string `yaml:"uri"`
	NoDNSSD     bool   `yaml:"no-dnssd"`
	Name        string `yaml:"name"`
	ProtocolLog string `yaml:"protocol-log"`
	LogLevel    string `yaml:"log-level"`

	ProtocolLogFrameBytes int `yaml:"protocol-log-frame-bytes"`

	ConfigFile string `yaml:"-"`
	Version    bool   `yaml:"-"`
}

var config Config

func init() {
	flag.BoolVar(&config.Debug, "d", false, "Output debug log to the standard output")
	flag.BoolVar(&config.Demux, "D", false, "Demux channels directly on the server")
	flag.StringVar(&config.FFS, "F", "", "Use the given FunctionFS mountpoint to serve over USB")
	flag.IntVar(&config.NbPipes, "n", service.DefaultNbPipes, "Number of USB pipes (ep couples) to use")
	flag.StringVar(&config.Serial, "s", "", "Serve on the given UART, e.g. /dev/ttyGS0,115200,8n1")
	flag.IntVar(&config.Port, "p", transport.DefaultPort, "Port to listen on, 0 disables TCP")
	flag.StringVar(&config.URI, "u", "sim:", "Context to serve: sim:, sim:<file.yaml>, ip:host or serial:...")
	flag.BoolVar(&config.NoDNSSD, "no-dnssd", false, "Do not advertise over DNS-SD")
	flag.StringVar(&config.Name, "name", "", "DNS-SD instance name")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Capture protocol events to a file")
	flag.IntVar(&config.ProtocolLogFrameBytes, "protocol-log-frame-bytes", 256, "Raw bytes kept per captured frame, 0 for all")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.ConfigFile, "config", "", "YAML configuration file")
	flag.BoolVar(&config.Version, "V", false, "Display the version and quit")
}

func main() {
	flag.Parse()

	if config.Version {
		fmt.Print(version.Current.Reply())
		return
	}

	if config.ConfigFile != "" {
		if err := loadConfigFile(config.ConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "iiod: %v\n", err)
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "iiod: %v\n", err)
		os.Exit(1)
	}
}

// loadConfigFile reads path into config. Flags given on the command line
// keep their value.
func loadConfigFile(path string) error {
	set := make(map[string]string)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	for name, value := range set {
		if err := flag.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(config.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if config.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// openBackend opens the context named by uri.
func openBackend(ctx context.Context, uri string, logger *slog.Logger) (backend.Backend, error) {
	if path, ok := strings.CutPrefix(uri, "sim:"); ok {
		cfg := sim.DefaultConfig()
		if path != "" {
			var err error
			if cfg, err = sim.LoadConfig(path); err != nil {
				return nil, err
			}
		}
		cfg.Logger = logger
		return sim.New(cfg)
	}

	ccfg := client.DefaultConfig()
	ccfg.Logger = logger
	return client.Dial(ctx, uri, ccfg)
}

func run() error {
	logger := newLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := openBackend(ctx, config.URI, logger)
	if err != nil {
		return fmt.Errorf("unable to open context %q: %w", config.URI, err)
	}
	defer b.Close()

	cfg := service.DefaultConfig()
	cfg.ListenAddress = ""
	if config.Port != 0 {
		cfg.ListenAddress = fmt.Sprintf(":%d", config.Port)
	}
	cfg.Serial = config.Serial
	cfg.FFSMount = config.FFS
	cfg.NbPipes = config.NbPipes
	cfg.ServerDemux = config.Demux
	cfg.Advertise = !config.NoDNSSD
	cfg.Discovery.Instance = config.Name
	cfg.Logger = logger

	var loggers []iiolog.Logger
	if config.ProtocolLog != "" {
		fl, err := iiolog.NewFileLoggerWithConfig(config.ProtocolLog, iiolog.FileLoggerConfig{
			Tool:         "iiod",
			MaxFrameData: config.ProtocolLogFrameBytes,
		})
		if err != nil {
			return fmt.Errorf("failed to create protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		logger.Info("Protocol logging enabled", "file", config.ProtocolLog)
	}
	if config.Debug {
		loggers = append(loggers, iiolog.NewSlogAdapter(logger))
	}
	if len(loggers) > 0 {
		ml := iiolog.NewMultiLogger(loggers...)
		defer ml.Close()
		cfg.ProtocolLogger = ml
	}

	d, err := service.New(b, cfg)
	if err != nil {
		return err
	}

	usr := make(chan os.Signal, 1)
	signal.Notify(usr, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(usr)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-usr:
				if sig == syscall.SIGUSR2 {
					logSessions(logger, d)
					continue
				}
				logger.Info("Restarting")
				if err := d.Restart(); err != nil && !errors.Is(err, service.ErrNotStarted) {
					logger.Warn("Restart failed", "error", err)
				}
			}
		}
	}()

	go func() {
		select {
		case <-d.Ready():
			logger.Info("Serving context", "uri", config.URI, "devices", len(b.Context().Devices),
				"addr", d.Addr(), "serial", cfg.Serial, "ffs", cfg.FFSMount)
		case <-ctx.Done():
		}
	}()

	err = d.Run(ctx)
	logger.Info("Shutting down")
	return err
}

func logSessions(logger *slog.Logger, d *service.Daemon) {
	sessions := d.Sessions()
	logger.Info("Connected clients", "count", len(sessions))
	for _, s := range sessions {
		logger.Info("Client", "conn", s.ConnID, "remote", s.RemoteAddr, "since", s.Since.Format(time.RFC3339))
	}
}
