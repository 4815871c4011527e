package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/guido-cesarano/syncq/pkg/actions"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	CorrelationID string
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <type> <payload>",
		Short: "Queue a raw action",
		Long: `Queue an action for the next sync run without attempting it.

The type must be registered (see "syncq queue types"). The payload is a JSON
document and is stored as given; it is validated when the action runs.

Examples:
  syncq enqueue meal/create '{"name":"soup","calories":300}'
  syncq enqueue workout/toggle '{"id":"42","completed":true}' --correlation-id 42`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.CorrelationID, "correlation-id", "", "id of the entity the action targets")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, cmd *cobra.Command, actionType, payload string) error {
	if !json.Valid([]byte(payload)) {
		return NewExitError(ExitCommandError, "payload is not valid JSON")
	}

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

	if _, ok := a.registry.Lookup(actionType); !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown action type %q (registered: %v)", actionType, a.registry.Types()))
	}

	var meta *actions.Metadata
	if opts.CorrelationID != "" {
		meta = &actions.Metadata{CorrelationID: opts.CorrelationID}
	}
	id, err := a.queue.Enqueue(ctx, actionType, json.RawMessage(payload), meta)
	if err != nil {
		return WrapExitError(ExitCommandError, "enqueue", err)
	}

	out := printer{format: opts.Format, w: cmd.OutOrStdout()}
	return out.data(map[string]string{"id": id, "type": actionType}, func(w io.Writer) {
		fmt.Fprintf(w, "Action queued: %s\n", id)
	})
}
