package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cbout22/skills-sync/internal/manifest"
	"github.com/cbout22/skills-sync/internal/syncer"
)

// newSyncCmd creates the `sync` command.
// Usage: skills sync
func newSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Bring every installed skill up to date",
		Long: `Checks every skill in skills.toml against its branch or tag. Skills whose
ref moved are downloaded again; skills you edited locally are only
overwritten after confirmation (or with --yes). Missing directories are
restored. One failing skill does not stop the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.env(cmd, true)
			if err != nil {
				return err
			}
			return runSyncWith(cmd.Context(), e)
		},
	}
}

// runSyncWith is the testable core of the sync command.
func runSyncWith(ctx context.Context, e *env) error {
	return runSyncScoped(ctx, e, func(s *syncer.Syncer, reg manifest.Registry) (manifest.Registry, syncer.Report, error) {
		return s.Sync(ctx, reg)
	})
}

func runSyncScoped(ctx context.Context, e *env, fn mutation) error {
	report, err := e.mutate(ctx, fn)
	if err != nil {
		return err
	}
	if err := e.out.report(report); err != nil {
		return err
	}
	return reportError(report)
}
