package modem_test

import (
	"errors"
	"testing"
	"time"

	"i4.energy/across/satbridge/modem"
)

func TestConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config, err := modem.NewConfigBuilder().Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		if config.RingsBeforeAnswer() != 1 {
			t.Errorf("expected 1 ring before answer, got %d", config.RingsBeforeAnswer())
		}
		if config.ATTimeout() != 5*time.Second {
			t.Errorf("expected 5s AT timeout, got %v", config.ATTimeout())
		}
		if config.MaxRetries() != 3 {
			t.Errorf("expected 3 retries, got %d", config.MaxRetries())
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		config, err := modem.NewConfigBuilder().
			WithRingsBeforeAnswer(4).
			WithATTimeout(2 * time.Second).
			WithMaxRetries(1).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		if config.RingsBeforeAnswer() != 4 || config.ATTimeout() != 2*time.Second || config.MaxRetries() != 1 {
			t.Errorf("overrides not applied: %+v", config)
		}
	})

	t.Run("Retries disabled", func(t *testing.T) {
		config, err := modem.NewConfigBuilder().WithMaxRetries(0).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		if config.MaxRetries() != 0 {
			t.Errorf("expected no retries, got %d", config.MaxRetries())
		}
	})

	t.Run("ErrInvalidConfig", func(t *testing.T) {
		tests := []struct {
			name    string
			builder *modem.ConfigBuilder
		}{
			{name: "negative rings", builder: modem.NewConfigBuilder().WithRingsBeforeAnswer(-1)},
			{name: "negative retries", builder: modem.NewConfigBuilder().WithMaxRetries(-2)},
			{name: "negative timeout", builder: modem.NewConfigBuilder().WithATTimeout(-time.Second)},
			{name: "negative guard", builder: modem.NewConfigBuilder().WithHangupGuard(-time.Second)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := tt.builder.Build(); !errors.Is(err, modem.ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got: %v", err)
				}
			})
		}
	})
}
