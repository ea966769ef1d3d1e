// Package cmd wires the project's subcommands (exec, run, list) onto a
// cobra root, grounded on the teacher's internal/cmd/root.go shape:
// Execute(version) builds the cmdutil.Helper once and maps the
// returned error to a process exit code via a type assertion on
// *diag.Error (Helper.ExitCode) instead of turborepo's cmdutil.Error.
package cmd

import (
	"os"

	"github.com/mitchellh/cli"
	"github.com/spf13/cobra"

	"github.com/devloop-run/devloop/internal/cmdutil"
)

// startupUi reports errors that happen before the cmdutil.Helper (and
// its own Terminal) exists yet, via the same mitchellh/cli.Ui the
// teacher's root command uses for top-level output.
var startupUi cli.Ui = &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}

var rootCmd = &cobra.Command{
	Use:   "dl <command> [<args>]",
	Short: "Dev-Loop is a project-local task runner",
	Long:  "Dev-Loop resolves and runs tasks declared in a project's .dl corpus, dispatching each to a host or container executor.",
}

// Execute builds the root command tree and runs it, returning the
// process exit code spec.md §6 mandates.
func Execute(version string) int {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Version = version

	cwd, err := os.Getwd()
	if err != nil {
		startupUi.Error(err.Error())
		return 1
	}

	h, err := cmdutil.New(cwd)
	if err != nil {
		startupUi.Error(err.Error())
		return 1
	}
	defer h.Watcher.Close()

	rootCmd.AddCommand(newExecCmd(h))
	rootCmd.AddCommand(newRunCmd(h))
	rootCmd.AddCommand(newListCmd(h))

	var cmdErr error
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}
	if execErr := rootCmd.Execute(); execErr != nil {
		cmdErr = execErr
	}

	return h.ExitCode(cmdErr)
}
