// ABOUTME: prime command: one read-only block of session context, issues and project memory
// ABOUTME: Meant to be pasted or piped into an agent at the start of a conversation

package cli

import (
	"io"

	"github.com/spf13/cobra"
)

// NewPrimeCommand prints the primer for the current session, or the one named by --session.
func NewPrimeCommand(opts *RootOptions) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "prime",
		Short: "Print the current session's key context with its project's issues and memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}
			p, err := opts.client.Primer(cmd.Context(), sid, project)
			if err != nil {
				return apiFailure("building primer", err)
			}
			return opts.printer.Emit(p, func(w io.Writer) { renderPrimer(w, p) })
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project path for sessions started without one")
	return cmd
}
