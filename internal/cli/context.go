// ABOUTME: context subcommands: save, get, update, delete and list items in the current session
// ABOUTME: A value of "-" reads the item body from stdin

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/client"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// NewContextCommand groups the context item commands.
func NewContextCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "context",
		Aliases: []string{"ctx", "item"},
		Short:   "Save and query context items in the current session",
	}

	cmd.AddCommand(newContextSaveCommand(opts))
	cmd.AddCommand(newContextGetCommand(opts))
	cmd.AddCommand(newContextUpdateCommand(opts))
	cmd.AddCommand(newContextDeleteCommand(opts))
	cmd.AddCommand(newContextListCommand(opts))
	return cmd
}

func newContextSaveCommand(opts *RootOptions) *cobra.Command {
	var (
		category, priority, channel string
		tags                        []string
	)

	cmd := &cobra.Command{
		Use:   "save KEY VALUE",
		Short: "Create or overwrite an item (VALUE - reads stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}
			value, err := readValue(cmd, args[1])
			if err != nil {
				return err
			}

			res, err := opts.client.SaveItem(cmd.Context(), sid, session.SaveInput{
				Key:      args[0],
				Value:    value,
				Category: store.Category(category),
				Priority: store.Priority(priority),
				Channel:  channel,
				Tags:     tags,
			})
			if err != nil {
				return apiFailure("saving item", err)
			}
			return opts.printer.Emit(res, func(w io.Writer) {
				verb := "Updated"
				if res.Created {
					verb = "Saved"
				}
				fmt.Fprintf(w, "%s %s (%d bytes)\n", green(verb), bold(res.Item.Key), res.Item.Size)
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "reminder|decision|progress|note|task (default note)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "high|normal|low (default normal)")
	cmd.Flags().StringVar(&channel, "channel", "", "channel (default the session's)")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag, repeatable")
	return cmd
}

func newContextGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}
			it, err := opts.client.GetItem(cmd.Context(), sid, args[0])
			if err != nil {
				return apiFailure("getting item", err)
			}
			return opts.printer.Emit(it, func(w io.Writer) { renderItem(w, it) })
		},
	}
}

func newContextUpdateCommand(opts *RootOptions) *cobra.Command {
	var (
		value, category, priority, channel string
		tags                               []string
	)

	cmd := &cobra.Command{
		Use:   "update KEY",
		Short: "Change selected fields of an existing item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}

			var in session.UpdateInput
			flags := cmd.Flags()
			if flags.Changed("value") {
				v, err := readValue(cmd, value)
				if err != nil {
					return err
				}
				in.Value = &v
			}
			if flags.Changed("category") {
				c := store.Category(category)
				in.Category = &c
			}
			if flags.Changed("priority") {
				p := store.Priority(priority)
				in.Priority = &p
			}
			if flags.Changed("channel") {
				in.Channel = &channel
			}
			if flags.Changed("tag") {
				in.Tags = &tags
			}

			n, err := opts.client.UpdateItem(cmd.Context(), sid, args[0], in)
			if err != nil {
				return apiFailure("updating item", err)
			}
			return opts.printer.Emit(map[string]int64{"updated": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Updated %s\n", bold(args[0]))
			})
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "new value (- reads stdin)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "new category")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "new priority")
	cmd.Flags().StringVar(&channel, "channel", "", "new channel")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "replace tags, repeatable")
	return cmd
}

func newContextDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Remove an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}
			n, err := opts.client.DeleteItem(cmd.Context(), sid, args[0])
			if err != nil {
				return apiFailure("deleting item", err)
			}
			return opts.printer.Emit(map[string]int64{"deleted": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %s\n", bold(args[0]))
			})
		},
	}
}

func newContextListCommand(opts *RootOptions) *cobra.Command {
	var q client.ItemQuery

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}
			items, err := opts.client.ListItems(cmd.Context(), sid, q)
			if err != nil {
				return apiFailure("listing items", err)
			}
			return opts.printer.Emit(items, func(w io.Writer) {
				if len(items) == 0 {
					fmt.Fprintln(w, faint("no items"))
					return
				}
				for _, it := range items {
					renderItem(w, it)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&q.Category, "category", "c", "", "filter by category")
	cmd.Flags().StringVarP(&q.Priority, "priority", "p", "", "filter by priority")
	cmd.Flags().StringVar(&q.Channel, "channel", "", "filter by channel")
	cmd.Flags().StringVarP(&q.Tag, "tag", "t", "", "filter by tag")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum items to list")
	return cmd
}
