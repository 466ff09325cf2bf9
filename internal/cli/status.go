// ABOUTME: status command: the terminal's current session plus server readiness
// ABOUTME: Refreshes the status cache so prompt scripts see fresh item counts

package cli

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/client"
	"github.com/2389/coven-context/internal/store"
)

// statusReport is the JSON shape of `coven-ctx status`
type statusReport struct {
	Server    string         `json:"server"`
	Ready     bool           `json:"ready"`
	StatusKey string         `json:"status_key,omitempty"`
	Session   *store.Session `json:"session,omitempty"`
	ItemCount int            `json:"item_count"`
}

// NewStatusCommand reports the current session and whether the server is ready.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session and server readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			report := statusReport{Server: opts.Server, StatusKey: opts.cache.Key()}

			if _, err := opts.client.Health(ctx); err != nil {
				opts.logger.Debug("health check failed", "error", err)
			} else {
				report.Ready = true
			}

			if id, err := opts.currentSession(); err == nil && report.Ready {
				s, err := opts.client.GetSession(ctx, id)
				switch {
				case client.StatusOf(err) == http.StatusNotFound:
					opts.forget(id)
				case err != nil:
					return apiFailure("getting session", err)
				default:
					report.Session = s
					if items, err := opts.client.ListItems(ctx, id, client.ItemQuery{}); err == nil {
						report.ItemCount = len(items)
					}
					opts.remember(ctx, s)
				}
			}

			err := opts.printer.Emit(report, func(w io.Writer) {
				state := green("ready")
				if !report.Ready {
					state = warn("unreachable")
				}
				fmt.Fprintf(w, "server:  %s %s\n", report.Server, state)
				if report.Session == nil {
					fmt.Fprintf(w, "session: %s\n", faint("none"))
					return
				}
				fmt.Fprintf(w, "session: %s %s [%s] %d items\n", bold(report.Session.Name),
					faint(report.Session.ID), statusColor(string(report.Session.Status)), report.ItemCount)
			})
			if err != nil {
				return err
			}
			if !report.Ready {
				return NewExitError(ExitFailure, "server not ready")
			}
			return nil
		},
	}
}
