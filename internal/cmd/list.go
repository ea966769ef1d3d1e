package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devloop-run/devloop/internal/cmdutil"
	"github.com/devloop-run/devloop/internal/preset"
)

// newListCmd implements `list [TASK [OPTION...]]` (spec.md §6):
// renders the tree of public tasks and descriptions reachable from the
// given path, recursing into oneof options. `--graph` additionally
// dumps the task reference graph in Graphviz DOT form, lifted from the
// teacher's `run.go` --graph flag.
func newListCmd(h *cmdutil.Helper) *cobra.Command {
	var graphPath string
	cmd := &cobra.Command{
		Use:   "list [TASK [OPTION...]]",
		Short: "Enumerate public tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := h.LoadCorpus()
			if err != nil {
				return err
			}
			if graphPath != "" {
				if err := os.WriteFile(graphPath, c.Dot(), 0o644); err != nil {
					return err
				}
			}
			entries, err := preset.List(c, args)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), preset.Render(entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "write the task reference graph in Graphviz DOT form to this path")
	return cmd
}
