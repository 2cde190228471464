//go:build linux

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/canlink"
	"github.com/kstaniek/go-canlink/internal/linkconf"
)

type cmdEnv struct {
	ctx context.Context
	cfg *appConfig
	log *slog.Logger
	out io.Writer
}

type command struct {
	name  string
	usage string
	run   func(env *cmdEnv, args []string) error
}

// usageError marks bad invocations; main prints the command usage for them.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error { return usageError{fmt.Sprintf(format, args...)} }

func commandList() []command {
	return []command{
		{"show", "[-json] IF", cmdShow},
		{"up", "IF", cmdUp},
		{"down", "IF", cmdDown},
		{"create", "[-kind vcan] [-index N] NAME", cmdCreate},
		{"delete", "IF", cmdDelete},
		{"mtu", "IF standard|fd", cmdMtu},
		{"bitrate", "[-sample-point N] IF RATE", cmdBitrate(false)},
		{"dbitrate", "[-sample-point N] IF RATE", cmdBitrate(true)},
		{"ctrlmode", "IF MODE=on|off... (or MODE on|off pairs)", cmdCtrlMode},
		{"restart-ms", "IF MS", cmdRestartMs},
		{"restart", "IF", cmdRestart},
		{"termination", "IF OHMS", cmdTermination},
		{"apply", "-f FILE", cmdApply},
		{"exporter", "IF...", cmdExporter},
		{"version", "", cmdVersion},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commandList() {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func subFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseArgs checks the positional argument count after sub-flags.
func parseArgs(fs *flag.FlagSet, args []string, want int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, usagef("%v", err)
	}
	rest := fs.Args()
	if len(rest) != want {
		return nil, usagef("expected %d argument(s), got %d", want, len(rest))
	}
	return rest, nil
}

func oneLink(name string, args []string) (link, string, error) {
	rest, err := parseArgs(subFlags(name), args, 1)
	if err != nil {
		return nil, "", err
	}
	l, err := openLink(rest[0])
	return l, rest[0], err
}

func parseUint(what, s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, usagef("invalid %s %q", what, s)
	}
	return v, nil
}

func cmdShow(env *cmdEnv, args []string) error {
	fs := subFlags("show")
	asJSON := fs.Bool("json", false, "JSON output")
	rest, err := parseArgs(fs, args, 1)
	if err != nil {
		return err
	}
	l, err := openLink(rest[0])
	if err != nil {
		return err
	}
	d, err := l.Details()
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(env.out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	printDetails(env.out, d)
	return nil
}

func cmdUp(env *cmdEnv, args []string) error {
	l, name, err := oneLink("up", args)
	if err != nil {
		return err
	}
	if err := l.BringUp(); err != nil {
		return err
	}
	env.log.Info("link_up", "if", name)
	return nil
}

func cmdDown(env *cmdEnv, args []string) error {
	l, name, err := oneLink("down", args)
	if err != nil {
		return err
	}
	if err := l.BringDown(); err != nil {
		return err
	}
	env.log.Info("link_down", "if", name)
	return nil
}

func cmdCreate(env *cmdEnv, args []string) error {
	fs := subFlags("create")
	kind := fs.String("kind", "vcan", "Driver kind (vcan, vxcan, ...)")
	index := fs.Int64("index", -1, "Requested interface index (default: kernel picks)")
	rest, err := parseArgs(fs, args, 1)
	if err != nil {
		return err
	}
	var idx *uint32
	if *index >= 0 {
		if *index == 0 || *index > int64(^uint32(0)>>1) {
			return usagef("invalid index %d", *index)
		}
		v := uint32(*index)
		idx = &v
	}
	l, err := createLink(rest[0], idx, *kind)
	if err != nil {
		return err
	}
	env.log.Info("link_created", "if", rest[0], "kind", *kind, "index", l.Index())
	fmt.Fprintf(env.out, "%d\n", l.Index())
	return nil
}

func cmdDelete(env *cmdEnv, args []string) error {
	l, name, err := oneLink("delete", args)
	if err != nil {
		return err
	}
	if err := l.Delete(); err != nil {
		return err
	}
	env.log.Info("link_deleted", "if", name)
	return nil
}

func cmdMtu(env *cmdEnv, args []string) error {
	rest, err := parseArgs(subFlags("mtu"), args, 2)
	if err != nil {
		return err
	}
	var m can.Mtu
	if err := m.Set(rest[1]); err != nil {
		return usagef("%v", err)
	}
	l, err := openLink(rest[0])
	if err != nil {
		return err
	}
	if err := l.SetMtu(m); err != nil {
		return err
	}
	env.log.Info("link_mtu_set", "if", rest[0], "mtu", m.String())
	return nil
}

func cmdBitrate(data bool) func(*cmdEnv, []string) error {
	name := "bitrate"
	if data {
		name = "dbitrate"
	}
	return func(env *cmdEnv, args []string) error {
		fs := subFlags(name)
		sp := fs.String("sample-point", "", "Sample point in tenths of a percent (875 = 87.5%)")
		rest, err := parseArgs(fs, args, 2)
		if err != nil {
			return err
		}
		rate, err := parseUint("bitrate", rest[1], 32)
		if err != nil {
			return err
		}
		var spp *uint32
		if *sp != "" {
			v, err := parseUint("sample point", *sp, 32)
			if err != nil {
				return err
			}
			u := uint32(v)
			spp = &u
		}
		l, err := openLink(rest[0])
		if err != nil {
			return err
		}
		if data {
			err = l.SetDataBitrate(uint32(rate), spp)
		} else {
			err = l.SetBitrate(uint32(rate), spp)
		}
		if err != nil {
			return err
		}
		env.log.Info("link_bitrate_set", "if", rest[0], "data", data, "bitrate", rate)
		return nil
	}
}

// parseModes accepts "fd=on loopback=off" as well as iproute2's "fd on loopback off".
func parseModes(args []string) (can.CtrlModes, error) {
	var cm can.CtrlModes
	for i := 0; i < len(args); i++ {
		key, val, ok := strings.Cut(args[i], "=")
		if !ok {
			if i+1 >= len(args) {
				return can.CtrlModes{}, usagef("mode %q needs on|off", args[i])
			}
			i++
			val = args[i]
		}
		mode, err := can.ParseMode(key)
		if err != nil {
			return can.CtrlModes{}, usagef("%v", err)
		}
		switch strings.ToLower(val) {
		case "on":
			cm.Add(mode, true)
		case "off":
			cm.Add(mode, false)
		default:
			return can.CtrlModes{}, usagef("mode %s: %q is not on|off", key, val)
		}
	}
	if cm.Empty() {
		return can.CtrlModes{}, usagef("no modes given")
	}
	return cm, nil
}

func cmdCtrlMode(env *cmdEnv, args []string) error {
	if len(args) < 2 {
		return usagef("expected IF and at least one mode")
	}
	cm, err := parseModes(args[1:])
	if err != nil {
		return err
	}
	l, err := openLink(args[0])
	if err != nil {
		return err
	}
	if err := l.SetCtrlModes(cm); err != nil {
		return err
	}
	env.log.Info("link_ctrlmode_set", "if", args[0], "modes", cm.String())
	return nil
}

func cmdRestartMs(env *cmdEnv, args []string) error {
	rest, err := parseArgs(subFlags("restart-ms"), args, 2)
	if err != nil {
		return err
	}
	ms, err := parseUint("restart-ms", rest[1], 32)
	if err != nil {
		return err
	}
	l, err := openLink(rest[0])
	if err != nil {
		return err
	}
	if err := l.SetRestartMs(uint32(ms)); err != nil {
		return err
	}
	env.log.Info("link_restart_ms_set", "if", rest[0], "ms", ms)
	return nil
}

func cmdRestart(env *cmdEnv, args []string) error {
	l, name, err := oneLink("restart", args)
	if err != nil {
		return err
	}
	if err := l.Restart(); err != nil {
		return err
	}
	env.log.Info("link_restarted", "if", name)
	return nil
}

func cmdTermination(env *cmdEnv, args []string) error {
	rest, err := parseArgs(subFlags("termination"), args, 2)
	if err != nil {
		return err
	}
	ohms, err := parseUint("termination", rest[1], 16)
	if err != nil {
		return err
	}
	l, err := openLink(rest[0])
	if err != nil {
		return err
	}
	if err := l.SetTermination(uint16(ohms)); err != nil {
		return err
	}
	env.log.Info("link_termination_set", "if", rest[0], "ohms", ohms)
	return nil
}

func cmdApply(env *cmdEnv, args []string) error {
	fs := subFlags("apply")
	path := fs.String("f", "", "Link configuration file (YAML)")
	if _, err := parseArgs(fs, args, 0); err != nil {
		return err
	}
	if *path == "" {
		return usagef("-f is required")
	}
	f, err := linkconf.Load(*path)
	if err != nil {
		return err
	}
	if err := linkconf.Apply(f, kernelLinker{}); err != nil {
		return err
	}
	env.log.Info("link_config_applied", "file", *path, "links", len(f.Links))
	return nil
}

func cmdVersion(env *cmdEnv, args []string) error {
	if len(args) != 0 {
		return usagef("version takes no arguments")
	}
	printVersion(env.out)
	return nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "canctl %s (commit %s, built %s)\n", version, commit, date)
}

func printDetails(w io.Writer, d *canlink.Details) {
	name := "?"
	if d.Name != nil {
		name = *d.Name
	}
	state := "DOWN"
	if d.IsUp {
		state = "UP"
	}
	fmt.Fprintf(w, "%d: %s <%s>", d.Index, name, state)
	if d.Mtu != nil {
		fmt.Fprintf(w, " mtu %d (%s, %d data bytes)", uint32(*d.Mtu), d.Mtu, d.Mtu.DataLen())
	}
	if d.Kind != "" {
		fmt.Fprintf(w, " kind %s", d.Kind)
	}
	fmt.Fprintln(w)
	c := d.CAN
	if c == nil {
		return
	}
	if c.State != nil || c.RestartMs != nil {
		fmt.Fprint(w, "   ")
		if c.State != nil {
			fmt.Fprintf(w, " state %s", strings.ToUpper(c.State.String()))
		}
		if c.RestartMs != nil {
			fmt.Fprintf(w, " restart-ms %d", *c.RestartMs)
		}
		fmt.Fprintln(w)
	}
	if c.CtrlMode != nil {
		if on := can.ActiveModes(c.CtrlMode.Flags); len(on) > 0 {
			names := make([]string, len(on))
			for i, m := range on {
				names[i] = m.String()
			}
			fmt.Fprintf(w, "    ctrlmode %s\n", strings.Join(names, " "))
		}
	}
	printTiming(w, "bitrate", c.BitTiming)
	printConst(w, c.BitTimingConst)
	printTiming(w, "dbitrate", c.DataBitTiming)
	printConst(w, c.DataBitTimingConst)
	if c.Clock != nil {
		fmt.Fprintf(w, "    clock %d\n", c.Clock.Freq)
	}
	if c.BerrCounter != nil {
		fmt.Fprintf(w, "    berr-counter tx %d rx %d\n", c.BerrCounter.TxErr, c.BerrCounter.RxErr)
	}
	if c.Termination != nil {
		fmt.Fprintf(w, "    termination %d\n", *c.Termination)
	}
	if s := c.DeviceStats; s != nil {
		fmt.Fprintf(w, "    re-started %d bus-errors %d arbit-lost %d error-warn %d error-pass %d bus-off %d\n",
			s.Restarts, s.BusError, s.ArbitrationLost, s.ErrorWarning, s.ErrorPassive, s.BusOff)
	}
}

func printTiming(w io.Writer, label string, bt *can.BitTiming) {
	if bt == nil {
		return
	}
	fmt.Fprintf(w, "    %s %d sample-point %d.%03d\n", label, bt.Bitrate, bt.SamplePoint/1000, bt.SamplePoint%1000)
	fmt.Fprintf(w, "      tq %d prop-seg %d phase-seg1 %d phase-seg2 %d sjw %d brp %d\n",
		bt.TQ, bt.PropSeg, bt.PhaseSeg1, bt.PhaseSeg2, bt.SJW, bt.BRP)
}

func printConst(w io.Writer, c *can.BitTimingConst) {
	if c == nil {
		return
	}
	fmt.Fprintf(w, "      %s: tseg1 %d..%d tseg2 %d..%d sjw 1..%d brp %d..%d brp_inc %d\n",
		c.HardwareName(), c.Tseg1Min, c.Tseg1Max, c.Tseg2Min, c.Tseg2Max, c.SJWMax, c.BRPMin, c.BRPMax, c.BRPInc)
}

// isUsage reports whether err came from argument parsing.
func isUsage(err error) bool {
	var u usageError
	return errors.As(err, &u)
}
