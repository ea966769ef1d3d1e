package cmdutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nightlyone/lockfile"

	"github.com/devloop-run/devloop/internal/config"
	"github.com/devloop-run/devloop/internal/diag"
)

// acquireScratchLock takes a single-flight lock on the project's
// .dl/scratch directory (spec.md §5 "Concurrency & Resource Model"): two
// concurrent `dl exec`/`dl run` invocations against the same project
// must not race on scratch workspace creation. Grounded on the
// teacher's turbod.pid guard in internal/daemon/daemon.go's
// tryAcquirePidfileLock, same github.com/nightlyone/lockfile dependency.
func acquireScratchLock(projectRoot string) (lockfile.Lockfile, error) {
	scratch := config.ScratchRoot(projectRoot)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return "", diag.Wrap(diag.KindCorpus, "scratch-mkdir", err)
	}
	lock, err := lockfile.New(filepath.Join(scratch, "invocation.lock"))
	if err != nil {
		return "", diag.Wrap(diag.KindCorpus, "lockfile-new", err)
	}
	if err := lock.TryLock(); err != nil {
		return "", diag.Wrap(diag.KindCorpus, "locked", fmt.Errorf("another dev-loop invocation is using %s: %w", scratch, err))
	}
	return lock, nil
}
