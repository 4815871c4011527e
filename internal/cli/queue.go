package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/admin"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and resolve queued actions",
		Long: `Inspect the durable queue and resolve actions by hand.

Examples:
  syncq queue list
  syncq queue stats --format json
  syncq queue retry 6f1c...
  syncq queue remove 6f1c...`,
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueStatsCommand(rootOpts))
	cmd.AddCommand(newQueueRemoveCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	cmd.AddCommand(newQueueTypesCommand(rootOpts))

	return cmd
}

// withApp loads config, opens the engine, runs fn and closes the engine.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(a *app, out printer) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open queue", err)
	}
	defer a.Close()
	return fn(a, printer{format: opts.Format, w: cmd.OutOrStdout()})
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List queued actions in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app, out printer) error {
				list := a.queue.List()
				return out.data(list, func(w io.Writer) { printActions(w, list) })
			})
		},
	}
}

func newQueueStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show queue depth by state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app, out printer) error {
				st := a.queue.Stats()
				return out.data(st, func(w io.Writer) {
					fmt.Fprintf(w, "pending: %d\nretrying: %d\nfailed: %d\n", st.Pending, st.Retrying, st.Failed)
				})
			})
		},
	}
}

func newQueueRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <id>",
		Short:         "Drop one action from the queue",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(opts, cmd, func(a *app, out printer) error {
				if _, ok := a.queue.Get(id); !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("action %s not found", id))
				}
				if err := a.queue.Remove(cmd.Context(), id); err != nil {
					return WrapExitError(ExitCommandError, "remove", err)
				}
				return out.data(map[string]string{"removed": id}, func(w io.Writer) {
					fmt.Fprintf(w, "Action removed: %s\n", id)
				})
			})
		},
	}
}

func newQueueRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Reset a failed action to pending",
		Long: `Reset the retry state of an action so the next run dispatches it again.
This is the manual way out of the failed state.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(opts, cmd, func(a *app, out printer) error {
				if _, ok := a.queue.Get(id); !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("action %s not found", id))
				}
				if err := a.queue.UpdateMetadata(cmd.Context(), id, admin.ResetPatch()); err != nil {
					return WrapExitError(ExitCommandError, "retry", err)
				}
				action, _ := a.queue.Get(id)
				return out.data(action, func(w io.Writer) {
					fmt.Fprintf(w, "Action reset: %s\n", id)
				})
			})
		},
	}
}

func newQueueClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:           "clear",
		Short:         "Remove every queued action",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to clear the queue without --yes")
			}
			return withApp(opts, cmd, func(a *app, out printer) error {
				n := a.queue.Len()
				if err := a.queue.Clear(cmd.Context()); err != nil {
					return WrapExitError(ExitCommandError, "clear", err)
				}
				return out.data(map[string]int{"cleared": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Cleared %d actions\n", n)
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

func newQueueTypesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "types",
		Short:         "List registered action types",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app, out printer) error {
				types := a.registry.Types()
				return out.data(types, func(w io.Writer) {
					for _, t := range types {
						fmt.Fprintln(w, t)
					}
				})
			})
		},
	}
}

func printActions(w io.Writer, list []actions.QueuedAction) {
	if len(list) == 0 {
		fmt.Fprintln(w, "Queue is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tENTITY\tRETRIES\tSTATE\tCREATED\tERROR")
	for _, a := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			a.ID,
			a.Type,
			a.Metadata.CorrelationID,
			a.Metadata.RetryCount,
			state(a.Metadata),
			a.CreatedAt.Format(time.RFC3339),
			a.Metadata.Error,
		)
	}
	tw.Flush()
}

func state(m actions.Metadata) string {
	switch {
	case m.Failed:
		return "failed"
	case m.RetryCount > 0:
		return "retrying"
	default:
		return "pending"
	}
}
