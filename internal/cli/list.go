package cli

import (
	"github.com/spf13/cobra"
)

// newListCmd creates the `list` command.
// Usage: skills list
func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed skills",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.env(cmd, false)
			if err != nil {
				return err
			}
			return runListWith(e)
		},
	}
}

// runListWith is the testable core of the list command.
func runListWith(e *env) error {
	reg, err := e.store.Load()
	if err != nil {
		return err
	}
	return e.out.list(reg)
}
