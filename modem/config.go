package modem

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxRetries applies when WithMaxRetries is not called.
const DefaultMaxRetries = 3

// Config holds the modem session settings. It is built with
// NewConfigBuilder so defaults and validation are always applied.
type Config struct {
	simPIN            string
	atTimeout         time.Duration
	answerTimeout     time.Duration
	maxRetries        int
	retriesSet        bool
	ringsBeforeAnswer int
	ringTimeout       time.Duration
	hangupGuard       time.Duration
	logger            *slog.Logger
}

func (c *Config) setDefaults() {
	if c.atTimeout == 0 {
		c.atTimeout = 5 * time.Second
	}
	if c.answerTimeout == 0 {
		// Iridium call setup routinely takes 20-40 seconds.
		c.answerTimeout = 60 * time.Second
	}
	if !c.retriesSet {
		c.maxRetries = DefaultMaxRetries
	}
	if c.ringsBeforeAnswer == 0 {
		c.ringsBeforeAnswer = 1
	}
	if c.ringTimeout == 0 {
		c.ringTimeout = 8 * time.Second
	}
	if c.hangupGuard == 0 {
		c.hangupGuard = time.Second
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
}

func (c *Config) validate() error {
	switch {
	case c.atTimeout < 0:
		return fmt.Errorf("%w: AT timeout %v", ErrInvalidConfig, c.atTimeout)
	case c.answerTimeout < 0:
		return fmt.Errorf("%w: answer timeout %v", ErrInvalidConfig, c.answerTimeout)
	case c.maxRetries < 0:
		return fmt.Errorf("%w: max retries %d", ErrInvalidConfig, c.maxRetries)
	case c.ringsBeforeAnswer < 1:
		return fmt.Errorf("%w: rings before answer %d", ErrInvalidConfig, c.ringsBeforeAnswer)
	case c.ringTimeout < 0:
		return fmt.Errorf("%w: ring timeout %v", ErrInvalidConfig, c.ringTimeout)
	case c.hangupGuard < 0:
		return fmt.Errorf("%w: hangup guard %v", ErrInvalidConfig, c.hangupGuard)
	}
	return nil
}

// RingsBeforeAnswer is the number of rings after which the session answers.
func (c Config) RingsBeforeAnswer() int { return c.ringsBeforeAnswer }

// ATTimeout is the per-command response deadline.
func (c Config) ATTimeout() time.Duration { return c.atTimeout }

// MaxRetries is how often a timed out command is re-issued. Zero fails on
// the first timeout.
func (c Config) MaxRetries() int { return c.maxRetries }

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
	err    error
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithSimPIN sets the PIN submitted during configuration. Without a PIN
// the session only checks that the SIM is ready.
func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.simPIN = pin
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

func (b *ConfigBuilder) WithAnswerTimeout(d time.Duration) *ConfigBuilder {
	b.config.answerTimeout = d
	return b
}

func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	if n < 0 {
		b.err = fmt.Errorf("%w: max retries %d", ErrInvalidConfig, n)
	}
	b.config.maxRetries = n
	b.config.retriesSet = true
	return b
}

func (b *ConfigBuilder) WithRingsBeforeAnswer(n int) *ConfigBuilder {
	if n < 1 {
		b.err = fmt.Errorf("%w: rings before answer %d", ErrInvalidConfig, n)
	}
	b.config.ringsBeforeAnswer = n
	return b
}

// WithRingTimeout sets how long Ringing waits for the next ring before
// the call is considered abandoned by the caller.
func (b *ConfigBuilder) WithRingTimeout(d time.Duration) *ConfigBuilder {
	b.config.ringTimeout = d
	return b
}

// WithHangupGuard sets the silence kept around the +++ escape.
func (b *ConfigBuilder) WithHangupGuard(d time.Duration) *ConfigBuilder {
	b.config.hangupGuard = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

func (b *ConfigBuilder) Build() (Config, error) {
	if b.err != nil {
		return Config{}, b.err
	}
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
