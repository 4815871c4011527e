package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/guido-cesarano/syncq/pkg/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	SkipProbe bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Process the queue once",
		Long: `Run the sync processor once against the remote authority.

The remote is probed first and nothing is attempted while it is unreachable,
so an offline run does not burn retries.

Exit codes:
  0 - Run completed, no action failed
  1 - Remote unreachable or at least one action failed
  2 - Command error (bad config, storage failure)

Examples:
  syncq sync
  syncq sync --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipProbe, "skip-probe", false, "process even if the health probe fails")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open queue", err)
	}
	defer a.Close()

	if !a.probe(ctx) && !opts.SkipProbe {
		return NewExitError(ExitFailure, fmt.Sprintf("remote %s unreachable, %d actions left queued", a.remote.BaseURL(), a.queue.Len()))
	}

	sum, err := a.processor.ProcessQueue(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "process queue", err)
	}

	out := printer{format: opts.Format, w: cmd.OutOrStdout()}
	if err := out.data(sum, func(w io.Writer) { printSummary(w, sum, a.queue.Len()) }); err != nil {
		return err
	}
	if sum.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d actions failed", sum.Failed))
	}
	return nil
}

func printSummary(w io.Writer, sum syncer.Summary, remaining int) {
	fmt.Fprintf(w, "Processed %d actions in %s\n", sum.Total, sum.Duration)
	fmt.Fprintf(w, "  synced:   %d\n", sum.Synced)
	fmt.Fprintf(w, "  failed:   %d (%d terminal)\n", sum.Failed, sum.Terminal)
	fmt.Fprintf(w, "  skipped:  %d\n", sum.Skipped)
	fmt.Fprintf(w, "  queued:   %d\n", remaining)
}
