// ABOUTME: events subcommands: emit a custom event, page through the log, tail the live stream
// ABOUTME: tail reconnects on its own and resumes after the last sequence it printed

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/client"
	"github.com/2389/coven-context/internal/eventlog"
)

// NewEventsCommand groups the event log commands.
func NewEventsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "events",
		Aliases: []string{"event"},
		Short:   "Emit, read and follow the event log",
	}

	cmd.AddCommand(newEventsEmitCommand(opts))
	cmd.AddCommand(newEventsListCommand(opts))
	cmd.AddCommand(newEventsTailCommand(opts))
	return cmd
}

func newEventsEmitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "emit TOPIC [PAYLOAD]",
		Short: "Append an event; PAYLOAD is a JSON object (- reads stdin)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			if len(args) == 2 {
				raw, err := readValue(cmd, args[1])
				if err != nil {
					return err
				}
				if !json.Valid([]byte(raw)) {
					return NewExitError(ExitUsage, "payload is not valid JSON")
				}
				payload = json.RawMessage(raw)
			}

			e, err := opts.client.EmitEvent(cmd.Context(), args[0], payload)
			if err != nil {
				return apiFailure("emitting event", err)
			}
			return opts.printer.Emit(e, func(w io.Writer) {
				fmt.Fprintf(w, "Emitted %s #%d\n", cyan(e.Topic), e.Sequence)
			})
		},
	}
}

func newEventsListCommand(opts *RootOptions) *cobra.Command {
	var q eventlog.Query

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Read one page of events after a cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := opts.client.ReadEvents(cmd.Context(), q)
			if err != nil {
				return apiFailure("reading events", err)
			}
			return opts.printer.Emit(batch, func(w io.Writer) {
				for _, e := range batch.Entries {
					renderEvent(w, e.Sequence, e.Timestamp, e.Topic, e.Payload)
				}
				if batch.HasMore {
					fmt.Fprintf(w, "%s\n", faint(fmt.Sprintf("more: --after %d", batch.Next.Sequence)))
				}
			})
		},
	}

	cmd.Flags().Int64Var(&q.Cursor.Timestamp, "since", 0, "only events after this unix-millisecond timestamp")
	cmd.Flags().Int64Var(&q.Cursor.Sequence, "after", 0, "only events after this sequence")
	cmd.Flags().StringVar(&q.Topic, "topic", "", "only this topic")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "page size")
	return cmd
}

func newEventsTailCommand(opts *RootOptions) *cobra.Command {
	var to client.TailOptions

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the live event stream until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := cmd.OutOrStdout()
			err := opts.client.Tail(ctx, to, func(f client.Frame) error {
				if opts.printer.json() {
					_, err := fmt.Fprintf(w, "%s\n", f.Data)
					return err
				}
				renderEvent(w, f.Sequence, f.Timestamp, f.Event, f.Data)
				return nil
			})
			return apiFailure("tailing events", err)
		},
	}

	cmd.Flags().Int64Var(&to.Cursor.Sequence, "after", 0, "resume after this sequence")
	cmd.Flags().Int64Var(&to.Cursor.Timestamp, "since", 0, "start after this unix-millisecond timestamp")
	cmd.Flags().StringVar(&to.Topic, "topic", "", "only this topic")
	cmd.Flags().DurationVar(&to.MaxBackoff, "max-backoff", client.DefaultMaxBackoff, "longest wait between reconnects")
	return cmd
}
