//go:build !linux

// Command canctl manages Linux CAN interfaces over rtnetlink.
package main

import (
	"fmt"
	"os"
)

type command struct{ name, usage string }

func commandList() []command { return nil }

func main() {
	fmt.Fprintln(os.Stderr, "canctl: rtnetlink CAN management is only available on Linux")
	os.Exit(1)
}
