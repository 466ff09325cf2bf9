// ABOUTME: session subcommands: start, list, show, pause, resume, complete, switch, rename, delete
// ABOUTME: Commands that change the current session keep the status cache in step

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/client"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// NewSessionCommand groups the session lifecycle commands.
func NewSessionCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Start, list and move sessions through their lifecycle",
	}

	cmd.AddCommand(newSessionStartCommand(opts))
	cmd.AddCommand(newSessionListCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "show [ID]",
		Short: "Show a session (defaults to the current one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.sessionArg(args)
			if err != nil {
				return err
			}
			s, err := opts.client.GetSession(cmd.Context(), id)
			if err != nil {
				return apiFailure("getting session", err)
			}
			return opts.printer.Emit(s, func(w io.Writer) { renderSession(w, s) })
		},
	})
	cmd.AddCommand(newTransitionCommand(opts, "pause", "Pause a session"))
	cmd.AddCommand(newTransitionCommand(opts, "resume", "Resume a paused or completed session"))
	cmd.AddCommand(newTransitionCommand(opts, "complete", "Mark a session completed"))
	cmd.AddCommand(newSessionSwitchCommand(opts))
	cmd.AddCommand(newSessionRenameCommand(opts))
	cmd.AddCommand(newSessionDeleteCommand(opts))

	return cmd
}

func newSessionStartCommand(opts *RootOptions) *cobra.Command {
	var in session.StartInput

	cmd := &cobra.Command{
		Use:   "start NAME",
		Short: "Start a session, resuming a paused one with the same name and project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			if in.ProjectPath == "" {
				if wd, err := os.Getwd(); err == nil {
					in.ProjectPath = wd
				}
			}

			res, err := opts.client.StartSession(cmd.Context(), in)
			if err != nil {
				return apiFailure("starting session", err)
			}
			opts.remember(cmd.Context(), res.Session)

			return opts.printer.Emit(res, func(w io.Writer) {
				verb := "Started"
				if res.Resumed {
					verb = "Resumed"
				}
				fmt.Fprintf(w, "%s session %s %s\n", green(verb), bold(res.Session.Name), faint(res.Session.ID))
			})
		},
	}

	cmd.Flags().StringVar(&in.Description, "description", "", "session description")
	cmd.Flags().StringVar(&in.Channel, "channel", "", "channel (default general)")
	cmd.Flags().StringVar(&in.ProjectPath, "project", "", "project path (default working directory)")
	cmd.Flags().BoolVar(&in.ForceNew, "new", false, "always create a new session")
	return cmd
}

func newSessionListCommand(opts *RootOptions) *cobra.Command {
	var q client.SessionQuery

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := opts.client.ListSessions(cmd.Context(), q)
			if err != nil {
				return apiFailure("listing sessions", err)
			}
			return opts.printer.Emit(sessions, func(w io.Writer) {
				if len(sessions) == 0 {
					fmt.Fprintln(w, faint("no sessions"))
					return
				}
				for _, s := range sessions {
					renderSessionRow(w, s)
				}
			})
		},
	}

	cmd.Flags().StringVar(&q.Status, "status", "", "filter by status (active|paused|completed)")
	cmd.Flags().StringVar(&q.ProjectPath, "project", "", "filter by project path")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum sessions to list")
	return cmd
}

func newTransitionCommand(opts *RootOptions, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [ID]",
		Short: short + " (defaults to the current one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.sessionArg(args)
			if err != nil {
				return err
			}

			var s *store.Session
			switch verb {
			case "pause":
				s, err = opts.client.PauseSession(cmd.Context(), id)
			case "resume":
				s, err = opts.client.ResumeSession(cmd.Context(), id)
			default:
				s, err = opts.client.CompleteSession(cmd.Context(), id)
			}
			if err != nil {
				return apiFailure(verb+" session "+id, err)
			}

			if s.Status == store.SessionCompleted {
				opts.forget(s.ID)
			} else {
				opts.remember(cmd.Context(), s)
			}
			return opts.printer.Emit(s, func(w io.Writer) {
				fmt.Fprintf(w, "%s is now %s\n", bold(s.Name), statusColor(string(s.Status)))
			})
		},
	}
}

func newSessionSwitchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "switch ID",
		Short: "Pause the current session and make ID active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := opts.currentSession()
			if err != nil && !errors.Is(err, errNoSession) {
				return err
			}
			if from == args[0] {
				from = ""
			}

			s, err := opts.client.SwitchSession(cmd.Context(), from, args[0])
			if err != nil {
				return apiFailure("switching session", err)
			}
			opts.remember(cmd.Context(), s)
			return opts.printer.Emit(s, func(w io.Writer) {
				fmt.Fprintf(w, "Switched to %s %s\n", bold(s.Name), faint(s.ID))
			})
		},
	}
}

func newSessionRenameCommand(opts *RootOptions) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "rename NAME",
		Short: "Rename the current session (or --session)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.currentSession()
			if err != nil {
				return err
			}
			var desc *string
			if cmd.Flags().Changed("description") {
				desc = &description
			}

			s, err := opts.client.RenameSession(cmd.Context(), id, args[0], desc)
			if err != nil {
				return apiFailure("renaming session", err)
			}
			if entry, _ := opts.cache.Read(); entry != nil && entry.SessionID == s.ID {
				opts.remember(cmd.Context(), s)
			}
			return opts.printer.Emit(s, func(w io.Writer) { renderSession(w, s) })
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "replace the description")
	return cmd
}

func newSessionDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a paused or completed session with its items and checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client.DeleteSession(cmd.Context(), args[0])
			if err != nil {
				return apiFailure("deleting session", err)
			}
			opts.forget(args[0])
			return opts.printer.Emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %s (%d items, %d checkpoints)\n",
					args[0], res.ItemsDeleted, res.CheckpointsDeleted)
			})
		},
	}
}
