package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cbout22/skills-sync/internal/manifest"
	"github.com/cbout22/skills-sync/internal/skillerr"
	"github.com/cbout22/skills-sync/internal/syncer"
)

// newUninstallCmd creates the `uninstall` command.
// Usage: skills uninstall <name>
func newUninstallCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <name>",
		Aliases: []string{"remove", "rm"},
		Short:   "Remove an installed skill and its directory",
		Long: `Deletes skills/<name> and then removes its entry from skills.toml.
Local edits inside the directory are not preserved.

Example:
  skills uninstall web`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return completeInstalledNames(opts, toComplete)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.env(cmd, false)
			if err != nil {
				return err
			}
			return runUninstallWith(cmd.Context(), e, args[0])
		},
	}
}

// runUninstallWith is the testable core of the uninstall command. An
// unknown name is reported before the lock is taken, leaving the base
// directory untouched.
func runUninstallWith(ctx context.Context, e *env, name string) error {
	reg, err := e.store.Load()
	if err != nil {
		return err
	}
	if _, ok := reg.Get(name); !ok {
		return skillerr.New(skillerr.KindNotFound, "skill %q is not installed", name)
	}

	report, err := e.mutate(ctx, func(s *syncer.Syncer, reg manifest.Registry) (manifest.Registry, syncer.Report, error) {
		return s.Uninstall(ctx, reg, name)
	})
	if err != nil {
		return err
	}
	return e.out.report(report)
}
