//go:build linux

// Command canctl manages Linux CAN interfaces over rtnetlink and can export
// their state as Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kstaniek/go-canlink/internal/canlink"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	cfg, rest, showVersion, err := parseFlags(args, errOut)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if showVersion {
		printVersion(out)
		return 0
	}
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if len(rest) == 0 {
		fmt.Fprintln(errOut, "usage: canctl [flags] <command> [args] (canctl -h lists commands)")
		return 2
	}
	cmd, ok := lookupCommand(rest[0])
	if !ok {
		fmt.Fprintf(errOut, "canctl: unknown command %q\n", rest[0])
		return 2
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel, errOut)
	env := &cmdEnv{ctx: ctx, cfg: cfg, log: l, out: out}
	if err := cmd.run(env, rest[1:]); err != nil {
		if isUsage(err) {
			fmt.Fprintf(errOut, "canctl %s: %v\nusage: canctl %s %s\n", cmd.name, err, cmd.name, cmd.usage)
			return 2
		}
		fmt.Fprintf(errOut, "canctl %s: %v\n", cmd.name, canlink.RequireCapNetAdmin(err))
		return 1
	}
	return 0
}
