package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/domains/meals"
	"github.com/guido-cesarano/syncq/pkg/entities"
)

// NewMealCommand creates the meal command group.
func NewMealCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meal",
		Short: "Record meals",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <calories>",
		Short: "Record a meal",
		Long: `Record a meal. It is sent right away when the remote is reachable and
nothing else for it is queued; otherwise it is queued for the next sync.

Examples:
  syncq meal add "lentil soup" 420`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			calories, err := strconv.Atoi(args[1])
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("calories must be a number, got %q", args[1]))
			}
			return withApp(rootOpts, cmd, func(a *app, out printer) error {
				a.probe(cmd.Context())
				e, err := a.meals.Create(cmd.Context(), args[0], calories)
				if err != nil {
					return WrapExitError(ExitFailure, "record meal", err)
				}
				return out.data(e, func(w io.Writer) { printEntity(w, "Meal", e) })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a meal",
		Long: `Delete a meal. A meal whose create is still queued is dropped locally;
otherwise a delete is sent or queued and the meal is kept as a tombstone until
the remote confirms it.

Examples:
  syncq meal delete server-12`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(rootOpts, cmd, func(a *app, out printer) error {
				a.probe(cmd.Context())
				if err := a.meals.Delete(cmd.Context(), id); err != nil {
					if errors.Is(err, meals.ErrNotFound) {
						return NewExitError(ExitFailure, fmt.Sprintf("meal %s not found", id))
					}
					return WrapExitError(ExitFailure, "delete meal", err)
				}
				return out.data(map[string]string{"deleted": id}, func(w io.Writer) {
					fmt.Fprintf(w, "Meal deleted: %s\n", id)
				})
			})
		},
	})

	return cmd
}

// WorkoutOptions holds flags for the workout add command.
type WorkoutOptions struct {
	*RootOptions
	At string
}

// NewWorkoutCommand creates the workout command group.
func NewWorkoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "workout",
		Short: "Schedule workouts",
	}

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Schedule a workout",
		Long: `Schedule a workout, sending it right away when the remote is reachable.

Examples:
  syncq workout add "5k run" --at 2026-10-20T07:00:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now()
			if opts.At != "" {
				t, err := time.Parse(time.RFC3339, opts.At)
				if err != nil {
					return WrapExitError(ExitCommandError, "parse --at", err)
				}
				at = t
			}
			return withApp(opts.RootOptions, cmd, func(a *app, out printer) error {
				a.probe(cmd.Context())
				e, err := a.workouts.Schedule(cmd.Context(), args[0], at)
				if err != nil {
					return WrapExitError(ExitFailure, "schedule workout", err)
				}
				return out.data(e, func(w io.Writer) { printEntity(w, "Workout", e) })
			})
		},
	}
	add.Flags().StringVar(&opts.At, "at", "", "RFC3339 start time (default now)")
	cmd.AddCommand(add)

	return cmd
}

func printEntity(w io.Writer, kind string, e entities.Entity) {
	switch e.SyncStatus {
	case actions.SyncStatusSynced:
		fmt.Fprintf(w, "%s saved: %s\n", kind, e.ID)
	default:
		fmt.Fprintf(w, "%s queued: %s (%s)\n", kind, e.ID, e.SyncStatus)
	}
}
