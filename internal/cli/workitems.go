// ABOUTME: issue, plan and memory subcommands for project-scoped work items
// ABOUTME: --project defaults to the working directory so one repo shares one tracker

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/client"
	"github.com/2389/coven-context/internal/store"
	"github.com/2389/coven-context/internal/workitems"
)

// projectFlag registers --project and returns a resolver defaulting to the working directory.
func projectFlag(cmd *cobra.Command) func() string {
	var project string
	cmd.Flags().StringVar(&project, "project", "", "project path (default working directory)")
	return func() string {
		if project != "" {
			return project
		}
		wd, err := os.Getwd()
		if err != nil {
			return ""
		}
		return wd
	}
}

// NewIssueCommand groups the issue tracker commands.
func NewIssueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "issue",
		Aliases: []string{"issues"},
		Short:   "Track issues and subtasks for a project",
	}

	cmd.AddCommand(newIssueCreateCommand(opts))
	cmd.AddCommand(newIssueListCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Show one issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			is, err := opts.client.GetIssue(cmd.Context(), args[0])
			if err != nil {
				return apiFailure("getting issue", err)
			}
			return opts.printer.Emit(is, func(w io.Writer) {
				renderIssue(w, is)
				if is.Description != "" {
					fmt.Fprintf(w, "  %s\n", is.Description)
				}
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status ID STATUS",
		Short: "Set an issue's status (open|in_progress|closed)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			is, err := opts.client.SetIssueStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return apiFailure("updating issue", err)
			}
			return opts.printer.Emit(is, func(w io.Writer) { renderIssue(w, is) })
		},
	})
	cmd.AddCommand(newIssueDeleteCommand(opts))
	cmd.AddCommand(newIssueDependCommand(opts))
	return cmd
}

func newIssueCreateCommand(opts *RootOptions) *cobra.Command {
	var in workitems.IssueInput

	cmd := &cobra.Command{
		Use:   "create TITLE",
		Short: "Open an issue, optionally as a subtask of --parent",
		Args:  cobra.ExactArgs(1),
	}
	project := projectFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		in.Title = args[0]
		in.ProjectPath = project()

		is, err := opts.client.CreateIssue(cmd.Context(), in)
		if err != nil {
			return apiFailure("creating issue", err)
		}
		return opts.printer.Emit(is, func(w io.Writer) { renderIssue(w, is) })
	}

	cmd.Flags().StringVar(&in.Description, "description", "", "issue description")
	cmd.Flags().StringVar(&in.IssueType, "type", "", "issue type (default task)")
	cmd.Flags().IntVar(&in.Priority, "priority", 0, "priority, lower is more urgent")
	cmd.Flags().StringVar(&in.ParentID, "parent", "", "parent issue id")
	return cmd
}

func newIssueListCommand(opts *RootOptions) *cobra.Command {
	var q client.IssueQuery

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's issues",
		Args:  cobra.NoArgs,
	}
	project := projectFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		q.ProjectPath = project()
		issues, err := opts.client.ListIssues(cmd.Context(), q)
		if err != nil {
			return apiFailure("listing issues", err)
		}
		return opts.printer.Emit(issues, func(w io.Writer) {
			if len(issues) == 0 {
				fmt.Fprintln(w, faint("no issues"))
				return
			}
			for _, is := range issues {
				renderIssue(w, is)
			}
		})
	}

	cmd.Flags().StringVar(&q.Status, "status", "", "filter by status")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum issues to list")
	return cmd
}

func newIssueDeleteCommand(opts *RootOptions) *cobra.Command {
	var cascade string

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an issue and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := workitems.ParseCascadeMode(cascade); err != nil {
				return WrapExitError(ExitUsage, "invalid --cascade", err)
			}
			res, err := opts.client.DeleteIssue(cmd.Context(), args[0], cascade)
			if err != nil {
				return apiFailure("deleting issue", err)
			}
			return opts.printer.Emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %d issues\n", res.Removed)
				for _, id := range res.IDs {
					fmt.Fprintf(w, "  %s\n", faint(id))
				}
			})
		},
	}

	cmd.Flags().StringVar(&cascade, "cascade", "", "children (default) or descendants")
	return cmd
}

func newIssueDependCommand(opts *RootOptions) *cobra.Command {
	var depType string

	cmd := &cobra.Command{
		Use:   "depend ID DEPENDS_ON",
		Short: "Record that ID depends on DEPENDS_ON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client.AddDependency(cmd.Context(), args[0], args[1], depType); err != nil {
				return apiFailure("adding dependency", err)
			}
			out := map[string]string{"issue_id": args[0], "depends_on_id": args[1], "dependency_type": depType}
			return opts.printer.Emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "%s now depends on %s\n", args[0], args[1])
			})
		},
	}

	cmd.Flags().StringVar(&depType, "type", store.DependencyBlocks, "blocks|parent-child|related")
	return cmd
}

// NewPlanCommand groups the plan commands.
func NewPlanCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plan",
		Aliases: []string{"plans"},
		Short:   "Write and track implementation plans",
	}

	cmd.AddCommand(newPlanCreateCommand(opts))
	cmd.AddCommand(newPlanListCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Print a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.client.GetPlan(cmd.Context(), args[0])
			if err != nil {
				return apiFailure("getting plan", err)
			}
			return opts.printer.Emit(p, func(w io.Writer) {
				renderPlan(w, p)
			})
		},
	})
	cmd.AddCommand(newPlanUpdateCommand(opts))
	return cmd
}

func newPlanCreateCommand(opts *RootOptions) *cobra.Command {
	var in workitems.PlanInput

	cmd := &cobra.Command{
		Use:   "create TITLE CONTENT",
		Short: "Create a plan (CONTENT - reads stdin)",
		Args:  cobra.ExactArgs(2),
	}
	project := projectFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		content, err := readValue(cmd, args[1])
		if err != nil {
			return err
		}
		in.Title, in.Content, in.ProjectPath = args[0], content, project()
		in.SessionID, _ = opts.currentSession()

		p, err := opts.client.CreatePlan(cmd.Context(), in)
		if err != nil {
			return apiFailure("creating plan", err)
		}
		return opts.printer.Emit(p, func(w io.Writer) {
			fmt.Fprintf(w, "%s plan %s %s\n", green("Created"), bold(p.Title), faint(p.ID))
		})
	}

	cmd.Flags().StringVar(&in.Status, "status", "", "draft (default) or active")
	return cmd
}

func newPlanListCommand(opts *RootOptions) *cobra.Command {
	var q client.IssueQuery

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's plans",
		Args:  cobra.NoArgs,
	}
	project := projectFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		q.ProjectPath = project()
		plans, err := opts.client.ListPlans(cmd.Context(), q)
		if err != nil {
			return apiFailure("listing plans", err)
		}
		return opts.printer.Emit(plans, func(w io.Writer) {
			for _, p := range plans {
				renderPlanRow(w, p)
			}
		})
	}

	cmd.Flags().StringVar(&q.Status, "status", "", "filter by status")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum plans to list")
	return cmd
}

func newPlanUpdateCommand(opts *RootOptions) *cobra.Command {
	var title, content, status string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change a plan's title, content or status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in workitems.PlanUpdate
			if cmd.Flags().Changed("title") {
				in.Title = &title
			}
			if cmd.Flags().Changed("content") {
				c, err := readValue(cmd, content)
				if err != nil {
					return err
				}
				in.Content = &c
			}
			if cmd.Flags().Changed("status") {
				in.Status = &status
			}

			p, err := opts.client.UpdatePlan(cmd.Context(), args[0], in)
			if err != nil {
				return apiFailure("updating plan", err)
			}
			return opts.printer.Emit(p, func(w io.Writer) {
				fmt.Fprintf(w, "%s [%s]\n", bold(p.Title), statusColor(p.Status))
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&content, "content", "", "new content (- reads stdin)")
	cmd.Flags().StringVar(&status, "status", "", "draft|active|completed")
	return cmd
}

// NewMemoryCommand groups the project memory commands.
func NewMemoryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Keep durable project facts across sessions",
	}

	save := &cobra.Command{
		Use:   "save KEY VALUE",
		Short: "Store a memory (VALUE - reads stdin)",
		Args:  cobra.ExactArgs(2),
	}
	var category string
	saveProject := projectFlag(save)
	save.Flags().StringVar(&category, "category", "", "memory category (default note)")
	save.RunE = func(cmd *cobra.Command, args []string) error {
		value, err := readValue(cmd, args[1])
		if err != nil {
			return err
		}
		m, err := opts.client.SaveMemory(cmd.Context(), saveProject(), args[0], value, category)
		if err != nil {
			return apiFailure("saving memory", err)
		}
		return opts.printer.Emit(m, func(w io.Writer) { renderMemory(w, m) })
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List a project's memories",
		Args:  cobra.NoArgs,
	}
	listProject := projectFlag(list)
	list.RunE = func(cmd *cobra.Command, args []string) error {
		mems, err := opts.client.ListMemory(cmd.Context(), listProject())
		if err != nil {
			return apiFailure("listing memory", err)
		}
		return opts.printer.Emit(mems, func(w io.Writer) {
			for _, m := range mems {
				renderMemory(w, m)
			}
		})
	}

	del := &cobra.Command{
		Use:   "delete KEY",
		Short: "Forget a memory",
		Args:  cobra.ExactArgs(1),
	}
	delProject := projectFlag(del)
	del.RunE = func(cmd *cobra.Command, args []string) error {
		if err := opts.client.DeleteMemory(cmd.Context(), delProject(), args[0]); err != nil {
			return apiFailure("deleting memory", err)
		}
		return opts.printer.Emit(map[string]string{"deleted": args[0]}, func(w io.Writer) {
			fmt.Fprintf(w, "Forgot %s\n", args[0])
		})
	}

	cmd.AddCommand(save, list, del)
	return cmd
}
