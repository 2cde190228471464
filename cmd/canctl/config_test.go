package main

import (
	"errors"
	"flag"
	"io"
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		logFormat: "text",
		logLevel:  "info",
		interval:  10 * time.Second,
		retryMax:  time.Minute,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"zeroInterval", func(c *appConfig) { c.interval = 0 }},
		{"zeroRetryMax", func(c *appConfig) { c.retryMax = 0 }},
		{"negativeLogMetrics", func(c *appConfig) { c.logMetricsEvery = -time.Second }},
	}
	for _, tc := range tests {
		base := baseConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	var nilCfg *appConfig
	if err := nilCfg.validate(); err == nil {
		t.Fatalf("nil config accepted")
	}
}

func TestParseFlags_SplitsCommand(t *testing.T) {
	cfg, rest, showVersion, err := parseFlags([]string{"-log-level", "debug", "-interval", "2s", "show", "-json", "can0"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if showVersion {
		t.Fatalf("unexpected -version")
	}
	if cfg.logLevel != "debug" || cfg.interval != 2*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(rest) != 3 || rest[0] != "show" || rest[1] != "-json" || rest[2] != "can0" {
		t.Fatalf("rest=%v", rest)
	}
}

func TestParseFlags_Invalid(t *testing.T) {
	if _, _, _, err := parseFlags([]string{"-log-format", "xml", "show", "can0"}, io.Discard); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, _, _, err := parseFlags([]string{"-no-such-flag"}, io.Discard); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, _, _, err := parseFlags([]string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
}
