package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cbout22/skills-sync/internal/manifest"
	"github.com/cbout22/skills-sync/internal/syncer"
)

// newUpdateCmd creates the `update` command.
// Usage: skills update <name>
func newUpdateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "update <name>",
		Short: "Bring one installed skill up to date",
		Long: `Same as sync, restricted to a single skill.

Example:
  skills update web`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return completeInstalledNames(opts, toComplete)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.env(cmd, true)
			if err != nil {
				return err
			}
			return runUpdateWith(cmd.Context(), e, args[0])
		},
	}
}

// runUpdateWith is the testable core of the update command.
func runUpdateWith(ctx context.Context, e *env, name string) error {
	return runSyncScoped(ctx, e, func(s *syncer.Syncer, reg manifest.Registry) (manifest.Registry, syncer.Report, error) {
		return s.Update(ctx, reg, name)
	})
}
