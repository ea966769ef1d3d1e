// Package dllog provides Dev-Loop's root logger, a thin wrapper over
// github.com/hashicorp/go-hclog matching the teacher's logging idiom
// (see internal/daemon/daemon.go's hclog.New, internal/run/run.go's
// logger.Named sub-loggers).
package dllog

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// New builds the root logger. Level is Info unless DL_DEBUG is set, in
// which case it is Debug - mirroring the teacher's --level/-l flag in
// internal/cmd/root.go, but driven by an env var since Dev-Loop's CLI
// flag surface is an external collaborator (spec.md §1).
func New() hclog.Logger {
	level := hclog.Info
	if _, ok := os.LookupEnv("DL_DEBUG"); ok {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:            "devloop",
		Level:           level,
		Output:          os.Stderr,
		Color:           colorOption(),
		DisableTime:     false,
		IncludeLocation: false,
	})
}

func colorOption() hclog.ColorOption {
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return hclog.ColorOff
	}
	return hclog.AutoColor
}

// Named returns a sub-logger tagged with name, for per-task or
// per-executor diagnostics (e.exec's targetLogger pattern in run.go).
func Named(base hclog.Logger, name string) hclog.Logger {
	return base.Named(name)
}
