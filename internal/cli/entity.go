package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/guido-cesarano/syncq/pkg/admin"
	"github.com/guido-cesarano/syncq/pkg/entities"
)

// NewEntityCommand creates the entity command group.
func NewEntityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Inspect local entities and undo deletes",
		Long: `Inspect the locally held entities of a domain and restore entities whose
delete has not been confirmed by the remote.

Examples:
  syncq entity list meal
  syncq entity tombstones meal
  syncq entity restore meal server-12`,
	}

	cmd.AddCommand(newEntityListCommand(rootOpts))
	cmd.AddCommand(newEntityTombstonesCommand(rootOpts))
	cmd.AddCommand(newEntityRestoreCommand(rootOpts))

	return cmd
}

func (a *app) entityStore(domain string) (*entities.Store, error) {
	es, ok := a.entities[domain]
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown domain %q", domain))
	}
	return es, nil
}

func newEntityListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <domain>",
		Short:         "List local entities of a domain",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app, out printer) error {
				es, err := a.entityStore(args[0])
				if err != nil {
					return err
				}
				list := es.List()
				return out.data(list, func(w io.Writer) { printEntities(w, list, "No entities") })
			})
		},
	}
}

func newEntityTombstonesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tombstones <domain>",
		Short:         "List deletes the remote has not confirmed",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app, out printer) error {
				es, err := a.entityStore(args[0])
				if err != nil {
					return err
				}
				list := es.Tombstones()
				return out.data(list, func(w io.Writer) { printEntities(w, list, "No tombstones") })
			})
		},
	}
}

func newEntityRestoreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <domain> <id>",
		Short: "Undo a delete",
		Long: `Bring a tombstoned entity back and drop the delete actions still queued
for it. This is the manual way out of a delete the remote rejected.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, id := args[0], args[1]
			return withApp(opts, cmd, func(a *app, out printer) error {
				es, err := a.entityStore(domain)
				if err != nil {
					return err
				}
				e, dropped, err := admin.RestoreEntity(cmd.Context(), a.queue, domain, es, id)
				switch {
				case errors.Is(err, admin.ErrNoTombstone):
					return NewExitError(ExitFailure, err.Error())
				case err != nil:
					return WrapExitError(ExitCommandError, "restore", err)
				}
				return out.data(e, func(w io.Writer) {
					fmt.Fprintf(w, "Entity restored: %s (%d queued deletes dropped)\n", e.ID, dropped)
				})
			})
		},
	}
}

func printEntities(w io.Writer, list []entities.Entity, empty string) {
	if len(list) == 0 {
		fmt.Fprintln(w, empty)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tUPDATED\tNAME")
	for _, e := range list {
		name, _ := e.Fields["name"].(string)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.SyncStatus, e.UpdatedAt.Format(time.RFC3339), name)
	}
	tw.Flush()
}
