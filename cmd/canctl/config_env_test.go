package main

import (
	"io"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()
	t.Setenv("CANCTL_LOG_FORMAT", "json")
	t.Setenv("CANCTL_INTERVAL", "30s")
	t.Setenv("CANCTL_MDNS_ENABLE", "yes")
	t.Setenv("CANCTL_MDNS_NAME", "bench")
	t.Setenv("CANCTL_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("CANCTL_METRICS", ":9100")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.logFormat != "json" {
		t.Fatalf("expected log format override, got %s", base.logFormat)
	}
	if base.interval != 30*time.Second {
		t.Fatalf("expected interval 30s got %v", base.interval)
	}
	if !base.mdnsEnable || base.mdnsName != "bench" {
		t.Fatalf("mdns overrides not applied: %+v", base)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.metricsAddr != ":9100" {
		t.Fatalf("metricsAddr=%q", base.metricsAddr)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := baseConfig()
	t.Setenv("CANCTL_INTERVAL", "30s")
	// Simulate user passed -interval flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"interval": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.interval != 10*time.Second {
		t.Fatalf("expected interval unchanged got %v", base.interval)
	}
}

func TestApplyEnvOverrides_FlagWinsThroughParse(t *testing.T) {
	t.Setenv("CANCTL_LOG_LEVEL", "error")
	cfg, _, _, err := parseFlags([]string{"-log-level", "debug", "version"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.logLevel != "debug" {
		t.Fatalf("env overrode explicit flag: %s", cfg.logLevel)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	for env, val := range map[string]string{
		"CANCTL_INTERVAL":    "soon",
		"CANCTL_MDNS_ENABLE": "maybe",
	} {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			if err := applyEnvOverrides(baseConfig(), map[string]struct{}{}); err == nil {
				t.Fatalf("expected error for %s=%s", env, val)
			}
		})
	}
}

func TestApplyEnvOverrides_EmptyMetricsDisables(t *testing.T) {
	base := baseConfig()
	base.metricsAddr = ":9100"
	t.Setenv("CANCTL_METRICS", "")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.metricsAddr != "" {
		t.Fatalf("expected metrics disabled, got %q", base.metricsAddr)
	}
}
