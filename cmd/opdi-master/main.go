// Command opdi-master is an interactive OPDI master.
//
// It keeps a list of devices in a YAML file, connects to them over TCP or
// a serial line and lets the user read and change their ports.
//
// Usage:
//
//	opdi-master [flags]
//
// Flags:
//
//	-devices string      Device file (default "$HOME/.opdi/devices.yaml")
//	-log-level string    Log level: debug, info, warn, error (default "info")
//	-capture string      Write a protocol capture (.olog) to this file
//	-reconnect           Reconnect devices after the connection is lost
//	-checksums           Request message checksums during the handshake
//	-ping-interval dur   Keepalive interval (default 10s)
//	-baud int            Baud rate for serial addresses without one (default 9600)
//	-autoconnect         Connect all stored devices at startup
//	-reset               Clear the device file before starting
//
// Examples:
//
//	# Start with the default device file
//	opdi-master
//
//	# Capture the protocol traffic for later inspection with opdi-log
//	opdi-master -capture /tmp/session.olog -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/leomeyer/OPDI-deprecated/cmd/opdi-master/interactive"
	"github.com/leomeyer/OPDI-deprecated/pkg/connection"
	"github.com/leomeyer/OPDI-deprecated/pkg/device"
	"github.com/leomeyer/OPDI-deprecated/pkg/discovery"
	"github.com/leomeyer/OPDI-deprecated/pkg/log"
	"github.com/leomeyer/OPDI-deprecated/pkg/persistence"
	"github.com/leomeyer/OPDI-deprecated/pkg/protocol"
	"github.com/leomeyer/OPDI-deprecated/pkg/transport"
	"github.com/leomeyer/OPDI-deprecated/pkg/version"
)

// Config holds the command line configuration.
type Config struct {
	DevicesFile  string
	LogLevel     string
	CaptureFile  string
	Reconnect    bool
	Checksums    bool
	PingInterval time.Duration
	BaudRate     int
	AutoConnect  bool
	Reset        bool
}

var config Config

func init() {
	flag.StringVar(&config.DevicesFile, "devices", defaultDevicesFile(), "Device file")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.CaptureFile, "capture", "", "Write a protocol capture (.olog) to this file")
	flag.BoolVar(&config.Reconnect, "reconnect", false, "Reconnect devices after the connection is lost")
	flag.BoolVar(&config.Checksums, "checksums", false, "Request message checksums during the handshake")
	flag.DurationVar(&config.PingInterval, "ping-interval", protocol.DefaultPingInterval, "Keepalive interval")
	flag.IntVar(&config.BaudRate, "baud", transport.DefaultBaudRate, "Baud rate for serial addresses without one")
	flag.BoolVar(&config.AutoConnect, "autoconnect", false, "Connect all stored devices at startup")
	flag.BoolVar(&config.Reset, "reset", false, "Clear the device file before starting")
}

func defaultDevicesFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "devices.yaml"
	}
	return filepath.Join(home, ".opdi", "devices.yaml")
}

func main() {
	flag.Parse()

	level, err := parseLevel(config.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	store := persistence.NewDeviceStore(config.DevicesFile)
	if config.Reset {
		if err := store.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear %s: %v\n", store.Path(), err)
		}
	}

	devCfg := device.DefaultConfig()
	devCfg.Protocol.PingInterval = config.PingInterval
	devCfg.Protocol.Checksums = config.Checksums
	devCfg.Transports = map[string]transport.Transport{
		transport.KindTCP:    &transport.TCP{},
		transport.KindSerial: &transport.Serial{BaudRate: config.BaudRate},
	}

	var capture *log.FileLogger
	if config.CaptureFile != "" {
		capture, err = log.NewFileLogger(config.CaptureFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open capture file: %v\n", err)
			os.Exit(1)
		}
		defer capture.Close()
		devCfg.ProtocolLogger = capture
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	master, err := interactive.New(interactive.Options{
		Store:     store,
		Browser:   discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig()),
		Reconnect: config.Reconnect,
		Connection: connection.DefaultConfig(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	// Log through readline so output does not tear the prompt.
	logger := slog.New(slog.NewTextHandler(master.Stderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	devCfg.Logger = logger
	devCfg.Protocol.Logger = logger

	if err := master.Init(devCfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", store.Path(), err)
		os.Exit(1)
	}

	logger.Info("starting", "version", version.String(), "devices", config.DevicesFile)
	if config.AutoConnect {
		master.ConnectAll(ctx)
	}

	go master.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}

	master.Shutdown()
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s (use: debug, info, warn, error)", s)
	}
}
