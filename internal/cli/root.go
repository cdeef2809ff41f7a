package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cbout22/skills-sync/internal/config"
	"github.com/cbout22/skills-sync/internal/logging"
	"github.com/cbout22/skills-sync/internal/skillerr"
	"github.com/cbout22/skills-sync/internal/syncer"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitMalformed  = 2
	exitNotFound   = 3
	exitLocalEdits = 4
)

// options holds the persistent flags shared by every command.
type options struct {
	settings config.Settings
}

// env builds the command environment from the parsed flags.
func (o *options) env(cmd *cobra.Command, create bool) (*env, error) {
	s, err := o.settings.Resolve()
	if err != nil {
		return nil, err
	}
	return newEnv(s, create, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// NewRootCmd creates the top-level `skills` command.
func NewRootCmd() *cobra.Command {
	opts := &options{settings: config.DefaultSettings()}

	root := &cobra.Command{
		Use:   "skills",
		Short: "Install and synchronize agent skill directories from GitHub",
		Long: `skills installs skill directories from GitHub tree URLs into skills/<name>,
records the exact commit and a content fingerprint of each in skills.toml,
and keeps them in sync with their branch or tag without overwriting local
edits unless you agree to it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelFromString(opts.settings.LogLevel)
			logger := logging.New(level, cmd.ErrOrStderr())
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.settings.BaseDir, "dir", "C", opts.settings.BaseDir, "base directory holding skills.toml and skills/ (env "+config.EnvDir+")")
	f.BoolVarP(&opts.settings.Global, "global", "g", false, "use ~/"+config.GlobalDirName+" as the base directory")
	f.BoolVarP(&opts.settings.AssumeYes, "yes", "y", false, "overwrite local edits without asking")
	f.IntVarP(&opts.settings.Jobs, "jobs", "j", opts.settings.Jobs, "maximum concurrent remote operations (env "+config.EnvJobs+")")
	f.BoolVar(&opts.settings.JSON, "json", false, "print results as JSON")
	f.StringVar(&opts.settings.LogLevel, "log-level", opts.settings.LogLevel, "debug, info, warn or error (env "+config.EnvLogLevel+")")
	f.BoolVar(&opts.settings.DetectAmbiguity, "detect-ambiguity", false, "warn when a URL could be split into ref and path in more than one way")

	root.AddCommand(newInstallCmd(opts))
	root.AddCommand(newSyncCmd(opts))
	root.AddCommand(newUpdateCmd(opts))
	root.AddCommand(newUninstallCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newCheckCmd(opts))

	return root
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %s\n", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch skillerr.KindOf(err) {
	case skillerr.KindMalformedLocator:
		return exitMalformed
	case skillerr.KindNotFound, skillerr.KindReferenceNotFound:
		return exitNotFound
	case skillerr.KindLocalEdits:
		return exitLocalEdits
	default:
		return exitFailure
	}
}

// reportError turns failed or skipped outcomes into the command's error.
func reportError(r syncer.Report) error {
	if err := r.Err(); err != nil {
		return fmt.Errorf("%d skill(s) failed: %w", r.Count(syncer.StatusFailed), err)
	}
	if r.Skipped() {
		return skillerr.New(skillerr.KindLocalEdits,
			"%d skill(s) kept local edits (rerun with --yes to overwrite)", r.Count(syncer.StatusSkippedLocalEdits))
	}
	return nil
}
