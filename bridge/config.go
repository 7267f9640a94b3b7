package bridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"i4.energy/across/satbridge/forward"
	"i4.energy/across/satbridge/link"
	"i4.energy/across/satbridge/mavlink"
	"i4.energy/across/satbridge/modem"
)

// Settings are the options that may change while the bridge runs.
type Settings struct {
	Verbose            bool
	EssentialAllowlist []string // message names or numeric ids, empty selects the default list
	MaxBitrateBps      int64
	BurstBits          int64
	MaxResidency       time.Duration
	RingsBeforeAnswer  int
	SimPIN             string
	ATTimeout          time.Duration
	MaxRetries         *int // nil selects the default, zero disables retries
	HangupGuard        time.Duration
}

// DefaultSettings returns the settings used for options left at zero.
func DefaultSettings() Settings {
	retries := modem.DefaultMaxRetries
	return Settings{
		MaxBitrateBps:     forward.DefaultRateBps,
		MaxResidency:      forward.DefaultMaxResidency,
		RingsBeforeAnswer: 1,
		ATTimeout:         5 * time.Second,
		MaxRetries:        &retries,
		HangupGuard:       time.Second,
	}
}

// compiled is a validated Settings in the form the components take.
type compiled struct {
	allow   []mavlink.MessageID
	forward forward.Config
	modem   modem.Config
}

func (s Settings) compile(logger *slog.Logger) (compiled, error) {
	var result *multierror.Error

	allow, err := mavlink.ParseAllowlist(s.EssentialAllowlist)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if s.MaxBitrateBps < 0 {
		result = multierror.Append(result, fmt.Errorf("max_bitrate_bps %d is negative", s.MaxBitrateBps))
	}
	if s.BurstBits < 0 {
		result = multierror.Append(result, fmt.Errorf("burst_bits %d is negative", s.BurstBits))
	}

	mb := modem.NewConfigBuilder().
		WithSimPIN(s.SimPIN).
		WithATTimeout(s.ATTimeout).
		WithRingsBeforeAnswer(max(s.RingsBeforeAnswer, 1)).
		WithHangupGuard(s.HangupGuard).
		WithLogger(logger)
	if s.MaxRetries != nil {
		mb.WithMaxRetries(*s.MaxRetries)
	}
	mc, err := mb.Build()
	if err != nil {
		result = multierror.Append(result, err)
	}
	if s.RingsBeforeAnswer < 0 {
		result = multierror.Append(result, fmt.Errorf("%w: rings before answer %d", modem.ErrInvalidConfig, s.RingsBeforeAnswer))
	}

	if err := result.ErrorOrNil(); err != nil {
		return compiled{}, err
	}
	return compiled{
		allow: allow,
		forward: forward.Config{
			RateBps:      s.MaxBitrateBps,
			BurstBits:    s.BurstBits,
			MaxResidency: s.MaxResidency,
			Logger:       logger,
		},
		modem: mc,
	}, nil
}

// Config is fixed for the lifetime of a Bridge.
type Config struct {
	Autopilot link.Dialer
	Modem     link.Dialer
	Settings  Settings

	Logger *slog.Logger
	// Level, if set, is switched to debug while Settings.Verbose is on
	// and back to BaseLevel otherwise.
	Level     *slog.LevelVar
	BaseLevel slog.Level

	// PollTimeout bounds each receive poll of a link.
	PollTimeout time.Duration
	// ReconnectInterval is the delay between dial attempts of a down link.
	ReconnectInterval time.Duration
	// DialTimeout bounds a single dial attempt, which runs on the
	// scheduling loop.
	DialTimeout time.Duration
	// StatusInterval is the period of the status log line.
	StatusInterval time.Duration
	// MaxQueueDepth bounds the messages queued per direction.
	MaxQueueDepth int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

const (
	DefaultPollTimeout       = 2 * time.Millisecond
	DefaultReconnectInterval = 5 * time.Second
	DefaultDialTimeout       = 500 * time.Millisecond
	DefaultStatusInterval    = 10 * time.Second
)

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
