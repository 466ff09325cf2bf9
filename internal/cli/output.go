// ABOUTME: Exit codes, error mapping and text/JSON rendering for coven-ctx commands
// ABOUTME: Text output is colored with fatih/color; JSON output is one indented document

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-context/internal/checkpoint"
	"github.com/2389/coven-context/internal/client"
	"github.com/2389/coven-context/internal/primer"
	"github.com/2389/coven-context/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // server, network or unexpected errors
	ExitUsage        = 2 // bad flags, arguments or local config
	ExitNotFound     = 3
	ExitPrecondition = 4 // rejected input or a state conflict
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err. Errors that are not ExitErrors
// map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// apiFailure maps a client error to an exit code by HTTP status.
func apiFailure(action string, err error) error {
	if err == nil {
		return nil
	}
	code := ExitFailure
	switch client.StatusOf(err) {
	case http.StatusNotFound:
		code = ExitNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		code = ExitPrecondition
	}
	return WrapExitError(code, action, err)
}

// Printer writes command results in the selected format.
type Printer struct {
	Format string
	Out    io.Writer
}

func (p *Printer) json() bool {
	return p.Format == FormatJSON
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Emit writes v as JSON in json mode and calls text otherwise.
func (p *Printer) Emit(v any, text func(w io.Writer)) error {
	if p.json() {
		return p.JSON(v)
	}
	text(p.Out)
	return nil
}

var (
	bold  = color.New(color.Bold).SprintFunc()
	faint = color.New(color.FgHiBlack).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	warn  = color.New(color.FgYellow).SprintFunc()
)

const timeLayout = "2006-01-02 15:04"

func statusColor(s string) string {
	switch s {
	// Plans share "active" with sessions
	case string(store.SessionActive), store.IssueOpen:
		return green(s)
	case string(store.SessionPaused), store.IssueInProgress, store.PlanDraft:
		return warn(s)
	default:
		return faint(s)
	}
}

func renderSession(w io.Writer, s *store.Session) {
	fmt.Fprintf(w, "%s %s [%s]\n", bold(s.Name), faint(s.ID), statusColor(string(s.Status)))
	if s.Description != "" {
		fmt.Fprintf(w, "  %s\n", s.Description)
	}
	fmt.Fprintf(w, "  channel: %s\n", s.Channel)
	if s.ProjectPath != "" {
		fmt.Fprintf(w, "  project: %s\n", s.ProjectPath)
	}
	fmt.Fprintf(w, "  updated: %s\n", s.UpdatedAt.UTC().Format(timeLayout))
}

func renderSessionRow(w io.Writer, s *store.Session) {
	fmt.Fprintf(w, "%-36s  %-9s  %s\n", s.ID, statusColor(string(s.Status)), s.Name)
}

func renderItem(w io.Writer, it *store.ContextItem) {
	fmt.Fprintf(w, "%s [%s/%s]", bold(it.Key), it.Category, it.Priority)
	if len(it.Tags) > 0 {
		fmt.Fprintf(w, " %s", cyan("#"+strings.Join(it.Tags, " #")))
	}
	fmt.Fprintln(w)
	for _, line := range strings.Split(it.Value, "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func renderCheckpoint(w io.Writer, cp *store.Checkpoint) {
	fmt.Fprintf(w, "%s %s\n", bold(cp.Name), faint(cp.ID))
	if cp.Description != "" {
		fmt.Fprintf(w, "  %s\n", cp.Description)
	}
	fmt.Fprintf(w, "  items: %d (%d bytes)\n", cp.ItemCount, cp.TotalSize)
	if cp.GitBranch != "" {
		fmt.Fprintf(w, "  branch: %s\n", cp.GitBranch)
	}
	fmt.Fprintf(w, "  created: %s\n", cp.CreatedAt.UTC().Format(timeLayout))
}

func renderCheckpointDetail(w io.Writer, d *checkpoint.Detail) {
	renderCheckpoint(w, d.Checkpoint)
	for _, it := range d.Items {
		fmt.Fprintf(w, "  %3d. %s [%s/%s]\n", it.Position, it.Key, it.Category, it.Priority)
	}
}

// truncate shortens s to at most n runes, marking the cut with "..."
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func renderDigestSection(w io.Writer, title string, items []*store.ContextItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", bold(title))
	for _, it := range items {
		fmt.Fprintf(w, "  - %s %s\n", it.Key, faint("("+truncate(it.Value, 60)+")"))
	}
}

func renderCompaction(w io.Writer, c *checkpoint.Compaction) {
	fmt.Fprintf(w, "%s checkpoint ", green("Prepared"))
	renderCheckpoint(w, c.Checkpoint)
	fmt.Fprintf(w, "\n%d high priority, %d pending tasks, %d decisions\n",
		c.Stats.HighPriority, c.Stats.PendingTasks, c.Stats.Decisions)
	renderDigestSection(w, "Next steps", c.Critical.NextSteps)
	renderDigestSection(w, "Key decisions", c.Critical.Decisions)
	renderDigestSection(w, "High priority", c.Critical.HighPriority)
	renderDigestSection(w, "Recent progress", c.Critical.RecentProgress)
	fmt.Fprintf(w, "\nrestore with: coven-ctx checkpoint restore %s\n", c.Checkpoint.ID)
}

func renderPrimer(w io.Writer, p *primer.Primer) {
	renderSession(w, p.Session)
	fmt.Fprintf(w, "  items: %d\n", p.Context.TotalItems)
	renderDigestSection(w, "High priority", p.Context.HighPriority)
	renderDigestSection(w, "Decisions", p.Context.Decisions)
	renderDigestSection(w, "Reminders", p.Context.Reminders)
	renderDigestSection(w, "Recent progress", p.Context.RecentProgress)

	if len(p.Issues.Active)+len(p.Issues.Ready) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", bold("Issues"), faint(fmt.Sprintf("(%d open)", p.Issues.TotalOpen)))
		for _, is := range p.Issues.Active {
			renderIssue(w, is)
		}
		for _, is := range p.Issues.Ready {
			renderIssue(w, is)
		}
	}
	if len(p.Memory) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold("Project memory"))
		for _, m := range p.Memory {
			renderMemory(w, m)
		}
	}
}

func renderIssue(w io.Writer, is *store.Issue) {
	fmt.Fprintf(w, "%-36s  %-11s  p%d  %s\n", is.ID, statusColor(is.Status), is.Priority, is.Title)
}

func renderPlanRow(w io.Writer, p *store.Plan) {
	fmt.Fprintf(w, "%-36s  %-9s  %s\n", p.ID, statusColor(p.Status), p.Title)
}

func renderPlan(w io.Writer, p *store.Plan) {
	fmt.Fprintf(w, "%s [%s]\n\n%s\n", bold(p.Title), statusColor(p.Status), p.Content)
}

func renderMemory(w io.Writer, m *store.Memory) {
	fmt.Fprintf(w, "%s [%s] %s\n", bold(m.Key), m.Category, m.Value)
}

func renderEvent(w io.Writer, seq, ts int64, topic string, payload []byte) {
	at := time.UnixMilli(ts).UTC().Format("15:04:05.000")
	fmt.Fprintf(w, "%s %s %s %s\n", faint(fmt.Sprintf("#%d", seq)), faint(at), cyan(topic), payload)
}
