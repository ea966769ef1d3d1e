// Command devloop is the dl CLI entry point: a thin wrapper that hands
// off to internal/cmd.Execute for the real work, the way the teacher's
// cmd/turbo binary hands off to internal/cmd.Execute.
package main

import (
	"os"

	"github.com/devloop-run/devloop/internal/cmd"
)

var version = "dev"

func main() {
	os.Exit(cmd.Execute(version))
}
