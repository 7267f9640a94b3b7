package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"i4.energy/across/satbridge/bridge"
)

// Config holds the application configuration
type Config struct {
	// Autopilot is the autopilot link descriptor (e.g. "udpin:0.0.0.0:14550")
	Autopilot string
	// Modem is the modem link descriptor (e.g. "serial:/dev/ttyUSB0:19200")
	Modem string
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// Verbose switches logging to debug while set
	Verbose bool
	// EssentialAllowlist names the MAVLink messages forwarded with priority
	EssentialAllowlist []string
	// MaxBitrateBps is the bit rate shared by both directions
	MaxBitrateBps int64
	// BurstBits is the token bucket capacity, zero means one second of traffic
	BurstBits int64
	// MaxResidency is how long a best-effort message may wait in a queue
	MaxResidency time.Duration
	// RingsBeforeAnswer is the number of rings before an incoming call is answered
	RingsBeforeAnswer int
	// SimPIN is the SIM card PIN code
	SimPIN string
	// ATTimeout is the response deadline of one AT command
	ATTimeout time.Duration
	// MaxRetries is how often a timed out AT command is repeated
	MaxRetries int
	// HangupGuard is the silence kept around the escape sequence
	HangupGuard time.Duration
	// TickInterval is the period of the scheduling loop
	TickInterval time.Duration
	// PollTimeout bounds each link poll within a tick
	PollTimeout time.Duration
	// ReconnectInterval is the delay between dial attempts of a down link
	ReconnectInterval time.Duration
	// DialTimeout bounds each dial attempt
	DialTimeout time.Duration
	// File is the TOML file the configuration was read from, if any
	File string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		s := bridge.DefaultSettings()
		c.Autopilot = "udpin:0.0.0.0:14550"
		c.Modem = "serial:/dev/ttyUSB0:19200"
		c.LogLevel = "info"
		c.MaxBitrateBps = s.MaxBitrateBps
		c.MaxResidency = s.MaxResidency
		c.RingsBeforeAnswer = s.RingsBeforeAnswer
		c.ATTimeout = s.ATTimeout
		c.MaxRetries = *s.MaxRetries
		c.HangupGuard = s.HangupGuard
		c.TickInterval = 20 * time.Millisecond
		c.PollTimeout = bridge.DefaultPollTimeout
		c.ReconnectInterval = bridge.DefaultReconnectInterval
		c.DialTimeout = bridge.DefaultDialTimeout
		return nil
	}
}

// duration reads TOML strings such as "5s" or "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// fileConfig describes the TOML configuration file.
type fileConfig struct {
	Autopilot          string   `toml:"autopilot"`
	Modem              string   `toml:"modem"`
	LogLevel           string   `toml:"log_level"`
	Verbose            bool     `toml:"verbose"`
	EssentialAllowlist []string `toml:"essential_allowlist"`
	MaxBitrateBps      int64    `toml:"max_bitrate_bps"`
	BurstBits          int64    `toml:"burst_bits"`
	MaxResidency       duration `toml:"max_residency"`
	RingsBeforeAnswer  int      `toml:"rings_before_answer"`
	SimPIN             string   `toml:"sim_pin"`
	ATTimeout          duration `toml:"at_timeout"`
	MaxRetries         int      `toml:"max_retries"`
	HangupGuard        duration `toml:"hangup_guard"`
	TickInterval       duration `toml:"tick_interval"`
	PollTimeout        duration `toml:"poll_timeout"`
	ReconnectInterval  duration `toml:"reconnect_interval"`
	DialTimeout        duration `toml:"dial_timeout"`
}

// WithFile loads configuration from a TOML file. Only the keys present
// in the file override earlier values. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		var f fileConfig
		md, err := toml.DecodeFile(path, &f)
		if err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config file %s: unknown keys %v", path, undecoded)
		}

		set := func(key string, apply func()) {
			if md.IsDefined(key) {
				apply()
			}
		}
		set("autopilot", func() { c.Autopilot = f.Autopilot })
		set("modem", func() { c.Modem = f.Modem })
		set("log_level", func() { c.LogLevel = f.LogLevel })
		set("verbose", func() { c.Verbose = f.Verbose })
		set("essential_allowlist", func() { c.EssentialAllowlist = f.EssentialAllowlist })
		set("max_bitrate_bps", func() { c.MaxBitrateBps = f.MaxBitrateBps })
		set("burst_bits", func() { c.BurstBits = f.BurstBits })
		set("max_residency", func() { c.MaxResidency = f.MaxResidency.Duration })
		set("rings_before_answer", func() { c.RingsBeforeAnswer = f.RingsBeforeAnswer })
		set("sim_pin", func() { c.SimPIN = f.SimPIN })
		set("at_timeout", func() { c.ATTimeout = f.ATTimeout.Duration })
		set("max_retries", func() { c.MaxRetries = f.MaxRetries })
		set("hangup_guard", func() { c.HangupGuard = f.HangupGuard.Duration })
		set("tick_interval", func() { c.TickInterval = f.TickInterval.Duration })
		set("poll_timeout", func() { c.PollTimeout = f.PollTimeout.Duration })
		set("reconnect_interval", func() { c.ReconnectInterval = f.ReconnectInterval.Duration })
		set("dial_timeout", func() { c.DialTimeout = f.DialTimeout.Duration })

		c.File = path
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if autopilot := os.Getenv("AUTOPILOT_LINK"); autopilot != "" {
			c.Autopilot = autopilot
		}

		if modem := os.Getenv("MODEM_LINK"); modem != "" {
			c.Modem = modem
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if verbose := os.Getenv("VERBOSE"); verbose != "" {
			v, err := strconv.ParseBool(verbose)
			if err != nil {
				return fmt.Errorf("VERBOSE: %w", err)
			}
			c.Verbose = v
		}

		if rings := os.Getenv("RINGS_BEFORE_ANSWER"); rings != "" {
			n, err := strconv.Atoi(rings)
			if err != nil {
				return fmt.Errorf("RINGS_BEFORE_ANSWER: %w", err)
			}
			c.RingsBeforeAnswer = n
		}

		if rate := os.Getenv("MAX_BITRATE_BPS"); rate != "" {
			n, err := strconv.ParseInt(rate, 10, 64)
			if err != nil {
				return fmt.Errorf("MAX_BITRATE_BPS: %w", err)
			}
			c.MaxBitrateBps = n
		}

		if allow := os.Getenv("ESSENTIAL_ALLOWLIST"); allow != "" {
			c.EssentialAllowlist = splitList(allow)
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags. Only flags set
// on the command line are applied.
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			if err != nil {
				return
			}
			switch f.Name {
			case "autopilot":
				c.Autopilot = f.Value.String()
			case "modem":
				c.Modem = f.Value.String()
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "verbose":
				c.Verbose, err = strconv.ParseBool(f.Value.String())
			case "rings":
				c.RingsBeforeAnswer, err = strconv.Atoi(f.Value.String())
			case "bitrate":
				c.MaxBitrateBps, err = strconv.ParseInt(f.Value.String(), 10, 64)
			case "allowlist":
				c.EssentialAllowlist = splitList(f.Value.String())
			}
			if err != nil {
				err = fmt.Errorf("flag -%s: %w", f.Name, err)
			}
		})
		return err
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Settings returns the part of the configuration that can change at runtime.
func (c *Config) Settings() bridge.Settings {
	retries := c.MaxRetries
	return bridge.Settings{
		Verbose:            c.Verbose,
		EssentialAllowlist: c.EssentialAllowlist,
		MaxBitrateBps:      c.MaxBitrateBps,
		BurstBits:          c.BurstBits,
		MaxResidency:       c.MaxResidency,
		RingsBeforeAnswer:  c.RingsBeforeAnswer,
		SimPIN:             c.SimPIN,
		ATTimeout:          c.ATTimeout,
		MaxRetries:         &retries,
		HangupGuard:        c.HangupGuard,
	}
}

// Level returns the configured log level, info when unknown.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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
