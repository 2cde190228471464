// Package linkconf loads a declarative YAML description of CAN links and
// applies it through a Linker.
//
//	links:
//	  - name: can0
//	    bitrate: 500000
//	    sample_point: 875
//	    ctrlmode: {fd: on, loopback: off}
//	    mtu: fd
//	    up: true
package linkconf

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/canlink"
	"github.com/kstaniek/go-canlink/internal/logging"
)

// File is the top-level document.
type File struct {
	Links []Link `yaml:"links"`
}

// Link describes the desired state of one interface. Unset fields are left
// as the kernel has them.
type Link struct {
	Name            string          `yaml:"name"`
	Create          string          `yaml:"create,omitempty"` // driver kind; create when missing
	Index           *uint32         `yaml:"index,omitempty"`  // requested index on create
	Bitrate         uint32          `yaml:"bitrate,omitempty"`
	SamplePoint     *uint32         `yaml:"sample_point,omitempty"`
	DataBitrate     uint32          `yaml:"data_bitrate,omitempty"`
	DataSamplePoint *uint32         `yaml:"data_sample_point,omitempty"`
	RestartMs       *uint32         `yaml:"restart_ms,omitempty"`
	Termination     *uint16         `yaml:"termination,omitempty"`
	MTU             string          `yaml:"mtu,omitempty"` // standard | fd
	CtrlMode        map[string]bool `yaml:"ctrlmode,omitempty"`
	Up              *bool           `yaml:"up,omitempty"`
}

// Controller is the per-interface surface Apply drives.
// canlink.Interface satisfies it.
type Controller interface {
	BringUp() error
	BringDown() error
	SetMtu(can.Mtu) error
	SetBitrate(bitrate uint32, samplePoint *uint32) error
	SetDataBitrate(bitrate uint32, samplePoint *uint32) error
	SetCtrlModes(can.CtrlModes) error
	SetRestartMs(ms uint32) error
	SetTermination(ohms uint16) error
}

// Linker resolves and creates interfaces.
type Linker interface {
	Open(name string) (Controller, error)
	Create(name string, index *uint32, kind string) (Controller, error)
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read link config %s: %w", path, err)
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a document. Unknown keys are rejected.
func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(b, &f); err != nil {
		return nil, fmt.Errorf("parse link config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every link without touching the kernel.
func (f *File) Validate() error {
	if len(f.Links) == 0 {
		return errors.New("link config: no links")
	}
	seen := make(map[string]bool, len(f.Links))
	for i := range f.Links {
		l := &f.Links[i]
		if err := l.validate(); err != nil {
			return fmt.Errorf("links[%d] %q: %w", i, l.Name, err)
		}
		if seen[l.Name] {
			return fmt.Errorf("links[%d] %q: duplicate name", i, l.Name)
		}
		seen[l.Name] = true
	}
	return nil
}

func (l *Link) validate() error {
	if err := canlink.ValidateName(l.Name); err != nil {
		return err
	}
	if l.Index != nil && l.Create == "" {
		return errors.New("index is only meaningful with create")
	}
	if l.Bitrate > canlink.MaxBitrate {
		return fmt.Errorf("bitrate %d above %d", l.Bitrate, canlink.MaxBitrate)
	}
	if l.SamplePoint != nil && l.Bitrate == 0 {
		return errors.New("sample_point needs bitrate")
	}
	if l.SamplePoint != nil && *l.SamplePoint > canlink.MaxSamplePoint {
		return fmt.Errorf("sample_point %d not below 1000", *l.SamplePoint)
	}
	if l.DataBitrate > canlink.MaxDataBitrate {
		return fmt.Errorf("data_bitrate %d above %d", l.DataBitrate, canlink.MaxDataBitrate)
	}
	if l.DataSamplePoint != nil && l.DataBitrate == 0 {
		return errors.New("data_sample_point needs data_bitrate")
	}
	if l.DataSamplePoint != nil && *l.DataSamplePoint > canlink.MaxSamplePoint {
		return fmt.Errorf("data_sample_point %d not below 1000", *l.DataSamplePoint)
	}
	if _, err := l.mtu(); err != nil {
		return err
	}
	if _, err := l.modes(); err != nil {
		return err
	}
	return nil
}

func (l *Link) mtu() (*can.Mtu, error) {
	if l.MTU == "" {
		return nil, nil
	}
	var m can.Mtu
	if err := m.Set(l.MTU); err != nil {
		return nil, err
	}
	return &m, nil
}

// modes folds the ctrlmode map in sorted key order so errors are stable.
func (l *Link) modes() (can.CtrlModes, error) {
	var cm can.CtrlModes
	keys := make([]string, 0, len(l.CtrlMode))
	for k := range l.CtrlMode {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m, err := can.ParseMode(k)
		if err != nil {
			return can.CtrlModes{}, err
		}
		cm.Add(m, l.CtrlMode[k])
	}
	return cm, nil
}

// needsDown reports whether any parameter the kernel only changes on a
// stopped interface is set.
func (l *Link) needsDown() bool {
	return l.Bitrate != 0 || l.DataBitrate != 0 || len(l.CtrlMode) > 0 ||
		l.RestartMs != nil || l.Termination != nil || l.MTU != ""
}

// Apply brings every link to its described state, in file order. It stops at
// the first failure; links already applied stay applied.
func Apply(f *File, lk Linker) error {
	if err := f.Validate(); err != nil {
		return err
	}
	log := logging.Component("linkconf")
	for i := range f.Links {
		l := &f.Links[i]
		if err := applyLink(l, lk); err != nil {
			return fmt.Errorf("link %s: %w", l.Name, err)
		}
		log.Debug("link_applied", "name", l.Name)
	}
	return nil
}

func applyLink(l *Link, lk Linker) error {
	c, err := lk.Open(l.Name)
	var rerr *canlink.ResolveError
	if err != nil && errors.As(err, &rerr) && l.Create != "" {
		c, err = lk.Create(l.Name, l.Index, l.Create)
		if err != nil {
			return fmt.Errorf("create %s: %w", l.Create, err)
		}
	} else if err != nil {
		return err
	}

	if l.needsDown() {
		if err := c.BringDown(); err != nil {
			return fmt.Errorf("bring down: %w", err)
		}
	}
	if modes, _ := l.modes(); !modes.Empty() {
		if err := c.SetCtrlModes(modes); err != nil {
			return fmt.Errorf("set ctrlmode %s: %w", modes, err)
		}
	}
	if l.Bitrate != 0 {
		if err := c.SetBitrate(l.Bitrate, l.SamplePoint); err != nil {
			return fmt.Errorf("set bitrate: %w", err)
		}
	}
	if l.DataBitrate != 0 {
		if err := c.SetDataBitrate(l.DataBitrate, l.DataSamplePoint); err != nil {
			return fmt.Errorf("set data bitrate: %w", err)
		}
	}
	if l.RestartMs != nil {
		if err := c.SetRestartMs(*l.RestartMs); err != nil {
			return fmt.Errorf("set restart-ms: %w", err)
		}
	}
	if l.Termination != nil {
		if err := c.SetTermination(*l.Termination); err != nil {
			return fmt.Errorf("set termination: %w", err)
		}
	}
	if m, _ := l.mtu(); m != nil {
		if err := c.SetMtu(*m); err != nil {
			return fmt.Errorf("set mtu: %w", err)
		}
	}
	switch {
	case l.Up == nil:
	case *l.Up:
		if err := c.BringUp(); err != nil {
			return fmt.Errorf("bring up: %w", err)
		}
	case !l.needsDown():
		if err := c.BringDown(); err != nil {
			return fmt.Errorf("bring down: %w", err)
		}
	}
	return nil
}
