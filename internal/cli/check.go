package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbout22/skills-sync/internal/logging"
)

// newCheckCmd creates the `check` command.
// Usage: skills check [--strict]
func newCheckCmd(opts *options) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether installed skills are in sync with skills.toml",
		Long: `Compares every skill directory with its recorded fingerprint and asks
GitHub whether its ref has moved. Nothing is downloaded or changed.
Useful in CI/CD pipelines.

With --strict, the command exits with a non-zero code if any skill is
stale, modified, missing or could not be checked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.env(cmd, false)
			if err != nil {
				return err
			}
			return runCheckWith(cmd.Context(), e, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit with an error if any skill is not up to date")

	return cmd
}

// runCheckWith is the testable core of the check command.
func runCheckWith(ctx context.Context, e *env, strict bool) error {
	reg, err := e.store.Load()
	if err != nil {
		return err
	}
	checks := e.newSyncer(e.confirm).Status(ctx, reg)
	if err := e.out.checks(checks); err != nil {
		return err
	}

	sum := summarizeChecks(checks)
	if sum.Issues() == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d of %d skill(s) need attention, run 'skills sync' to fix", sum.Issues(), sum.Total)
	if strict {
		if sum.FirstError != nil {
			return fmt.Errorf("%s: %w", msg, sum.FirstError)
		}
		return fmt.Errorf("%s", msg)
	}
	logging.Ctx(ctx).Warn(msg)
	return nil
}
