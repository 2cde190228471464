package main

import (
	"io"
	"log/slog"

	"github.com/kstaniek/go-canlink/internal/logging"
)

func setupLogger(format, level string, w io.Writer) *slog.Logger {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	l := logging.New(format, lvl, w).With("app", "canctl")
	logging.Set(l)
	return l
}
