package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_canlink-exporter._tcp"

// registerMDNS is swapped in tests.
var registerMDNS = func(instance, service, domain string, port int, text []string) (func(), error) {
	svc, err := zeroconf.Register(instance, service, domain, port, text, nil)
	if err != nil {
		return nil, err
	}
	return svc.Shutdown, nil
}

// startMDNS advertises the exporter's metrics endpoint and returns a cleanup
// function. It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int, links []string) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	if port <= 0 {
		return nil, fmt.Errorf("mdns: no metrics port to advertise (set -metrics-addr)")
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("canlink-%s", host)
	}
	meta := []string{
		"links=" + strings.Join(links, ","),
		"path=/metrics",
		"version=" + version,
		"commit=" + commit,
	}
	shutdown, err := registerMDNS(instance, mdnsServiceType, "local.", port, meta)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	var once sync.Once
	stop := func() { once.Do(shutdown) }
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return func() { close(done); stop() }, nil
}

// portOf extracts the numeric port from host:port or :port.
func portOf(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return 0
}
