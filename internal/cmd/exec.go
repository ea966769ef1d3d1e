package cmd

import (
	"github.com/spf13/cobra"

	"github.com/devloop-run/devloop/internal/cmdutil"
	"github.com/devloop-run/devloop/internal/plangraph"
)

// newExecCmd implements `exec TASK [OPTION...] [-- ARGS...]` (spec.md
// §6 CLI surface): locate TASK, descend OPTION selections through any
// oneof chain, then run the resolved plan with the trailing args
// appended to every leaf's argument vector.
func newExecCmd(h *cmdutil.Helper) *cobra.Command {
	var profilePath string
	cmd := &cobra.Command{
		Use:   "exec TASK [OPTION...] [-- ARGS...]",
		Short: "Resolve and run a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, rawArgs []string) error {
			path, trailing := splitOnDash(cmd, rawArgs)

			c, err := h.LoadCorpus()
			if err != nil {
				return err
			}
			node, err := plangraph.ResolveExec(c, path, trailing)
			if err != nil {
				return err
			}
			s := h.NewScheduler(c)
			return cmdutil.WithProfile(profilePath, func() error {
				return s.Run(h.Watcher.Context(), node)
			})
		},
	}
	cmd.Flags().StringVar(&profilePath, "profile", "", "write a Chrome trace of this run's scheduler execution to this path")
	return cmd
}

// splitOnDash separates a cobra command's positional path from its
// trailing "-- ARGS..." tail.
func splitOnDash(cmd *cobra.Command, rawArgs []string) (path, trailing []string) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		return rawArgs, nil
	}
	return rawArgs[:dash], rawArgs[dash:]
}
