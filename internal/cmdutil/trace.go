package cmdutil

import (
	"github.com/google/chrometracing"

	"github.com/devloop-run/devloop/internal/fs"
)

// WithProfile runs fn while Chrome trace profiling is enabled, copying
// the resulting trace to dest on return (dest == "" disables tracing
// entirely). Grounded on the teacher's run.go --profile flag, same
// github.com/google/chrometracing dependency.
func WithProfile(dest string, fn func() error) error {
	if dest == "" {
		return fn()
	}
	chrometracing.EnableTracing()
	tracer := chrometracing.Event("run")
	runErr := fn()
	tracer.Done()

	if src := chrometracing.Path(); src != "" {
		_ = chrometracing.Close()
		if copyErr := fs.CopyFile(src, dest, 0o644); copyErr != nil && runErr == nil {
			return copyErr
		}
	}
	return runErr
}
