package main

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

// stubRegister restores the real registrar when the test ends.
func stubRegister(t *testing.T) {
	orig := registerMDNS
	t.Cleanup(func() { registerMDNS = orig })
}

func TestStartMDNS_Disabled(t *testing.T) {
	stubRegister(t)
	registerMDNS = func(string, string, string, int, []string) (func(), error) {
		t.Fatalf("register must not run when disabled")
		return nil, nil
	}
	cleanup, err := startMDNS(context.Background(), &appConfig{}, 9100, nil)
	if err != nil {
		t.Fatalf("startMDNS: %v", err)
	}
	cleanup()
}

func TestStartMDNS_NeedsPort(t *testing.T) {
	if _, err := startMDNS(context.Background(), &appConfig{mdnsEnable: true}, 0, nil); err == nil {
		t.Fatalf("expected error without a port")
	}
}

func TestStartMDNS_Registers(t *testing.T) {
	stubRegister(t)
	var gotInstance, gotService string
	var gotPort int
	var gotText []string
	shut := make(chan struct{}, 1)
	registerMDNS = func(instance, service, domain string, port int, text []string) (func(), error) {
		gotInstance, gotService, gotPort, gotText = instance, service, port, text
		return func() { shut <- struct{}{} }, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cfg := &appConfig{mdnsEnable: true, mdnsName: "bench"}
	cleanup, err := startMDNS(ctx, cfg, 9100, []string{"can0", "can1"})
	if err != nil {
		t.Fatalf("startMDNS: %v", err)
	}
	if gotInstance != "bench" || gotService != mdnsServiceType || gotPort != 9100 {
		t.Fatalf("registered %q %q %d", gotInstance, gotService, gotPort)
	}
	if !strings.Contains(strings.Join(gotText, ";"), "links=can0,can1") {
		t.Fatalf("txt=%v", gotText)
	}
	cancel()
	<-shut
	cleanup()
}

func TestStartMDNS_CleanupShutsDownOnce(t *testing.T) {
	stubRegister(t)
	var shutdowns atomic.Int32
	registerMDNS = func(string, string, string, int, []string) (func(), error) {
		return func() { shutdowns.Add(1) }, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cleanup, err := startMDNS(ctx, &appConfig{mdnsEnable: true}, 9100, nil)
	if err != nil {
		t.Fatalf("startMDNS: %v", err)
	}
	cleanup()
	if n := shutdowns.Load(); n != 1 {
		t.Fatalf("shutdown ran %d times before cleanup returned, want 1", n)
	}
	cancel()
	if n := shutdowns.Load(); n != 1 {
		t.Fatalf("shutdown ran %d times after cancel, want 1", n)
	}
}

func TestStartMDNS_RegisterError(t *testing.T) {
	stubRegister(t)
	registerMDNS = func(string, string, string, int, []string) (func(), error) {
		return nil, errors.New("no multicast interface")
	}
	if _, err := startMDNS(context.Background(), &appConfig{mdnsEnable: true}, 9100, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPortOf(t *testing.T) {
	cases := map[string]int{":9100": 9100, "127.0.0.1:8080": 8080, "[::1]:9": 9, "": 0, "nope": 0}
	for in, want := range cases {
		if got := portOf(in); got != want {
			t.Fatalf("portOf(%q)=%d want %d", in, got, want)
		}
	}
}
