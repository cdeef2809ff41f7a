package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cbout22/skills-sync/internal/manifest"
	"github.com/cbout22/skills-sync/internal/syncer"
)

// newInstallCmd creates the `install` command.
// Usage: skills install <github tree url> [--name n] [--force]
func newInstallCmd(opts *options) *cobra.Command {
	var req syncer.InstallRequest

	cmd := &cobra.Command{
		Use:   "install <url>",
		Short: "Install a skill directory from a GitHub tree URL",
		Long: `Resolves a GitHub tree URL to a branch, tag or commit plus a path inside
the repository, downloads that directory into skills/<name> and records it
in skills.toml. Slashes in branch names are handled by trying the longest
ref first.

A directory without SKILL.md is treated as a collection: every child
directory that has one is installed as its own skill, behind a single
confirmation.

Examples:
  skills install https://github.com/my-org/skills/tree/release/v1.0/skills/web
  skills install https://github.com/my-org/skills/tree/main/skills`,
		Args: cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return completeTreeURL(cmd, opts, toComplete)
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.env(cmd, true)
			if err != nil {
				return err
			}
			req.URL = args[0]
			return runInstallWith(cmd.Context(), e, req)
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "install under this name instead of the last URL segment")
	cmd.Flags().BoolVar(&req.Force, "force", false, "rebind a name already installed from another source")

	return cmd
}

// runInstallWith is the testable core of the install command.
func runInstallWith(ctx context.Context, e *env, req syncer.InstallRequest) error {
	report, err := e.mutate(ctx, func(s *syncer.Syncer, reg manifest.Registry) (manifest.Registry, syncer.Report, error) {
		return s.Install(ctx, reg, req)
	})
	if err != nil {
		return err
	}
	if err := e.out.report(report); err != nil {
		return err
	}
	return reportError(report)
}
