//go:build linux

package main

import (
	"github.com/kstaniek/go-canlink/internal/canlink"
	"github.com/kstaniek/go-canlink/internal/linkconf"
)

// link is the slice of canlink.Interface the commands use.
type link interface {
	linkconf.Controller
	Index() uint32
	Details() (*canlink.Details, error)
	Delete() error
	Restart() error
}

var _ link = canlink.Interface{}

// Hooks for tests (overridden in unit tests).
var (
	openLink = func(name string) (link, error) {
		i, err := canlink.Open(name)
		if err != nil {
			return nil, err
		}
		return i, nil
	}
	createLink = func(name string, index *uint32, kind string) (link, error) {
		i, err := canlink.Create(name, index, kind)
		if err != nil {
			return nil, err
		}
		return i, nil
	}
)

// kernelLinker feeds linkconf.Apply through the same hooks.
type kernelLinker struct{}

func (kernelLinker) Open(name string) (linkconf.Controller, error) {
	l, err := openLink(name)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (kernelLinker) Create(name string, index *uint32, kind string) (linkconf.Controller, error) {
	l, err := createLink(name, index, kind)
	if err != nil {
		return nil, err
	}
	return l, nil
}
