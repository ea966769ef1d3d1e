package cmd

import (
	"github.com/spf13/cobra"

	"github.com/devloop-run/devloop/internal/cmdutil"
	"github.com/devloop-run/devloop/internal/preset"
)

// newRunCmd implements `run PRESET` (spec.md §6): resolve the preset's
// tag-matched task set into an implicit parallel-pipeline and run it.
func newRunCmd(h *cmdutil.Helper) *cobra.Command {
	var profilePath string
	cmd := &cobra.Command{
		Use:   "run PRESET",
		Short: "Run every task matching a preset's tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := h.LoadCorpus()
			if err != nil {
				return err
			}
			node, err := preset.Resolve(c, args[0])
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
