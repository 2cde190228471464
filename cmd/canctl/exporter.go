//go:build linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/kstaniek/go-canlink/internal/canlink"
	"github.com/kstaniek/go-canlink/internal/metrics"
)

// retryInitial is the first delay after a failed poll round.
const retryInitial = time.Second

// exporter polls link details and publishes them as gauges.
type exporter struct {
	names    []string
	interval time.Duration
	retryMax time.Duration
	log      *slog.Logger
	details  func(name string) (*canlink.Details, error)
	wait     func(ctx context.Context, d time.Duration) bool
	ready    atomic.Bool
}

func newExporter(cfg *appConfig, names []string, l *slog.Logger) *exporter {
	return &exporter{
		names:    names,
		interval: cfg.interval,
		retryMax: cfg.retryMax,
		log:      l,
		details:  linkDetails,
		wait:     sleepCtx,
	}
}

func linkDetails(name string) (*canlink.Details, error) {
	l, err := openLink(name)
	if err != nil {
		return nil, err
	}
	return l.Details()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// pollOnce samples every link and returns the first error. Links that are
// gone have their series removed.
func (e *exporter) pollOnce() error {
	var firstErr error
	for _, name := range e.names {
		d, err := e.details(name)
		if err != nil {
			metrics.IncError(metrics.ErrExporterPoll)
			var rerr *canlink.ResolveError
			if errors.As(err, &rerr) || errors.Is(err, os.ErrNotExist) {
				metrics.ForgetLink(name)
			}
			e.log.Warn("exporter_poll_error", "if", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.SetLink(name, sampleOf(d))
	}
	metrics.IncPoll()
	return firstErr
}

// run polls until ctx is done. A failed round is retried with exponential
// backoff capped at retryMax; a clean round resets it.
func (e *exporter) run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitial
	if b.InitialInterval > e.retryMax {
		b.InitialInterval = e.retryMax
	}
	b.MaxInterval = e.retryMax
	b.MaxElapsedTime = 0 // never give up
	b.Reset()
	for {
		next := e.interval
		if err := e.pollOnce(); err != nil {
			e.ready.Store(false)
			next = b.NextBackOff()
			e.log.Debug("exporter_retry", "in", next)
		} else {
			e.ready.Store(true)
			b.Reset()
		}
		if !e.wait(ctx, next) {
			return
		}
	}
}

func sampleOf(d *canlink.Details) metrics.LinkSample {
	s := metrics.LinkSample{Up: d.IsUp}
	if d.Mtu != nil {
		s.MTU = uint32(*d.Mtu)
	}
	c := d.CAN
	if c == nil {
		return s
	}
	if c.BitTiming != nil {
		s.Bitrate = &c.BitTiming.Bitrate
	}
	if c.DataBitTiming != nil {
		s.DataBitrate = &c.DataBitTiming.Bitrate
	}
	if c.State != nil {
		v := uint32(*c.State)
		s.State = &v
	}
	if c.BerrCounter != nil {
		s.BerrTx = &c.BerrCounter.TxErr
		s.BerrRx = &c.BerrCounter.RxErr
	}
	if st := c.DeviceStats; st != nil {
		s.BusErrors = &st.BusError
		s.BusOff = &st.BusOff
		s.Restarts = &st.Restarts
	}
	return s
}

func cmdExporter(env *cmdEnv, args []string) error {
	if len(args) == 0 {
		return usagef("expected at least one interface")
	}
	for _, name := range args {
		if err := canlink.ValidateName(name); err != nil {
			return err
		}
	}
	cfg, l := env.cfg, env.log
	ctx, stop := signal.NotifyContext(env.ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := newExporter(cfg, args, l)
	metrics.SetReadinessFunc(func() bool { return e.ready.Load() && ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}
	if cfg.mdnsEnable {
		port := portOf(cfg.metricsAddr)
		cleanupMDNS, err := startMDNS(ctx, cfg, port, args)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else {
			l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
			defer cleanupMDNS()
		}
	}

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	l.Info("exporter_start", "links", args, "interval", cfg.interval)
	e.run(ctx)
	wg.Wait()
	l.Info("exporter_stop")
	return nil
}
