package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MinTime != 200*time.Millisecond {
		t.Errorf("MinTime = %s, want 200ms", cfg.MinTime)
	}
	if cfg.Reservoir != 20 {
		t.Errorf("Reservoir = %d, want 20", cfg.Reservoir)
	}
	if cfg.RefillAmount != 20 {
		t.Errorf("RefillAmount = %d, want 20", cfg.RefillAmount)
	}
	if cfg.RefillInterval != time.Second {
		t.Errorf("RefillInterval = %s, want 1s", cfg.RefillInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero min time", mutate: func(c *Config) { c.MinTime = 0 }},
		{name: "negative min time", mutate: func(c *Config) { c.MinTime = -time.Second }, wantErr: true},
		{name: "zero reservoir", mutate: func(c *Config) { c.Reservoir = 0 }, wantErr: true},
		{name: "zero refill amount", mutate: func(c *Config) { c.RefillAmount = 0 }, wantErr: true},
		{name: "zero refill interval", mutate: func(c *Config) { c.RefillInterval = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_RefillLevel(t *testing.T) {
	cfg := Config{Reservoir: 10, RefillAmount: 25}
	if got := cfg.refillLevel(); got != 10 {
		t.Errorf("refillLevel() = %d, want capacity 10", got)
	}

	cfg.RefillAmount = 4
	if got := cfg.refillLevel(); got != 4 {
		t.Errorf("refillLevel() = %d, want 4", got)
	}
}

func TestState_Exhausted(t *testing.T) {
	if (State{Reservoir: 1}).Exhausted() {
		t.Error("state with one permit should not be exhausted")
	}
	if !(State{Reservoir: 0}).Exhausted() {
		t.Error("state with no permits should be exhausted")
	}
}

func TestState_NextRefill(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := State{LastRefill: start}

	if got := s.NextRefill(time.Second); !got.Equal(start.Add(time.Second)) {
		t.Errorf("NextRefill() = %s, want %s", got, start.Add(time.Second))
	}
}
