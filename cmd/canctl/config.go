package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type appConfig struct {
	logFormat       string
	logLevel        string
	metricsAddr     string
	interval        time.Duration
	retryMax        time.Duration
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

// parseFlags parses the global flags that precede the subcommand and returns
// the remaining arguments.
func parseFlags(args []string, errOut io.Writer) (*appConfig, []string, bool, error) {
	fs := flag.NewFlagSet("canctl", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.Usage = func() { usage(fs) }
	cfg := &appConfig{}
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address for the exporter (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.interval, "interval", 10*time.Second, "Exporter poll interval")
	fs.DurationVar(&cfg.retryMax, "retry-max", time.Minute, "Upper bound for the exporter retry backoff")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the exporter via mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default canlink-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, false, err
	}

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, nil, *showVersion, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, nil, *showVersion, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, fs.Args(), *showVersion, nil
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "usage: canctl [flags] <command> [args]\n\ncommands:\n")
	for _, c := range commandList() {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(w, "\nflags:\n")
	fs.PrintDefaults()
}

// validate performs basic semantic validation of the parsed configuration.
// It does not touch the kernel or open listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.interval <= 0 {
		return fmt.Errorf("interval must be > 0 (got %v)", c.interval)
	}
	if c.retryMax <= 0 {
		return fmt.Errorf("retry-max must be > 0 (got %v)", c.retryMax)
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CANCTL_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	dur := func(flagName, env string, dst *time.Duration, allowZero bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		v, ok := get(env)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		switch {
		case err != nil:
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		case d > 0 || (allowZero && d == 0):
			*dst = d
		}
	}

	str("log-format", "CANCTL_LOG_FORMAT", &c.logFormat)
	str("log-level", "CANCTL_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		// An empty value is meaningful here: it disables the endpoint.
		if v, ok := get("CANCTL_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	dur("interval", "CANCTL_INTERVAL", &c.interval, false)
	dur("retry-max", "CANCTL_RETRY_MAX", &c.retryMax, false)
	dur("log-metrics-interval", "CANCTL_LOG_METRICS_INTERVAL", &c.logMetricsEvery, true)
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CANCTL_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			default:
				if firstErr == nil {
					firstErr = fmt.Errorf("invalid CANCTL_MDNS_ENABLE: %q", v)
				}
			}
		}
	}
	str("mdns-name", "CANCTL_MDNS_NAME", &c.mdnsName)
	return firstErr
}
