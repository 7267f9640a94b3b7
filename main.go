package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"i4.energy/across/satbridge/bridge"
	"i4.energy/across/satbridge/link"
)

func main() {
	configFile := flag.String("config", "", "TOML configuration file, reloaded when it changes")
	flag.String("autopilot", "udpin:0.0.0.0:14550", "Autopilot link (serial:path[:baud], tcp:host:port, udp:host:port, udpin:addr:port)")
	flag.String("modem", "serial:/dev/ttyUSB0:19200", "Iridium modem link")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.Bool("verbose", false, "Log diagnostics at debug level")
	flag.Int("rings", 1, "Rings before an incoming call is answered")
	flag.Int64("bitrate", 2400, "Bit rate shared by both directions")
	flag.String("allowlist", "", "Comma separated essential MAVLink messages")
	flag.Parse()

	load := func() (*Config, error) {
		return LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	}
	config, err := load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := &slog.LevelVar{}
	level.Set(config.Level())
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	autopilot, err := link.ParseDescriptor(config.Autopilot)
	if err != nil {
		logger.Error("Invalid autopilot link", "error", err)
		os.Exit(1)
	}
	modem, err := link.ParseDescriptor(config.Modem)
	if err != nil {
		logger.Error("Invalid modem link", "error", err)
		os.Exit(1)
	}

	b := bridge.New(bridge.Config{
		Autopilot:         autopilot,
		Modem:             modem,
		Settings:          config.Settings(),
		Logger:            logger,
		Level:             level,
		BaseLevel:         config.Level(),
		PollTimeout:       config.PollTimeout,
		ReconnectInterval: config.ReconnectInterval,
		DialTimeout:       config.DialTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel to listen for interrupt and control signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, append([]os.Signal{syscall.SIGINT, syscall.SIGTERM}, controlSignals...)...)

	logger.Info("Starting satellite bridge", "autopilot", config.Autopilot, "modem", config.Modem)
	if err := b.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize bridge", "error", err)
		os.Exit(1)
	}

	reloads := make(chan bridge.Settings, 1)
	if config.File != "" {
		stop, err := watchConfig(ctx, logger, config.File, load, reloads)
		if err != nil {
			logger.Warn("Configuration reload disabled", "error", err)
		} else {
			defer stop()
		}
	}

	ticker := time.NewTicker(config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Tick(ctx); err != nil {
				logger.Error("Tick failed", "error", err)
			}

		case settings := <-reloads:
			if err := b.UpdateSettings(settings); err != nil {
				logger.Error("Rejected new settings", "error", err)
			}

		case sig := <-sigChan:
			switch {
			case sig == hangupSignal:
				if err := b.Hangup(); err != nil {
					logger.Warn("Hangup not possible", "error", err)
				}
			case sig == resetSignal:
				if err := b.ResetModem(); err != nil {
					logger.Warn("Modem reset failed", "error", err)
				}
			default:
				logger.Info("Received shutdown signal", "signal", sig)
				cancel()
				if err := b.Shutdown(); err != nil {
					logger.Error("Failed to close links", "error", err)
					os.Exit(1)
				}
				return
			}
		}
	}
}
