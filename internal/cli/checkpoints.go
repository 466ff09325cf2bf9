// ABOUTME: checkpoint subcommands: create, compact, list, show, restore, split, delete, export, import
// ABOUTME: Split specs come from a YAML (or JSON) file; --git records branch and status

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-context/internal/checkpoint"
	"github.com/2389/coven-context/internal/client"
)

// NewCheckpointCommand groups the checkpoint commands.
func NewCheckpointCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"cp", "checkpoints"},
		Short:   "Capture, restore, split and move checkpoints",
	}

	cmd.AddCommand(newCheckpointCreateCommand(opts))
	cmd.AddCommand(newCheckpointCompactCommand(opts))
	cmd.AddCommand(newCheckpointListCommand(opts))
	cmd.AddCommand(newCheckpointShowCommand(opts))
	cmd.AddCommand(newCheckpointRestoreCommand(opts))
	cmd.AddCommand(newCheckpointSplitCommand(opts))
	cmd.AddCommand(newCheckpointDeleteCommand(opts))
	cmd.AddCommand(newCheckpointExportCommand(opts))
	cmd.AddCommand(newCheckpointImportCommand(opts))
	return cmd
}

func addFilterFlags(cmd *cobra.Command, f *checkpoint.Filter) {
	cmd.Flags().StringSliceVar(&f.IncludeTags, "include-tag", nil, "keep items carrying any of these tags")
	cmd.Flags().StringSliceVar(&f.ExcludeTags, "exclude-tag", nil, "drop items carrying any of these tags")
	cmd.Flags().StringSliceVar(&f.IncludeCategories, "include-category", nil, "keep items in these categories")
	cmd.Flags().StringSliceVar(&f.IncludeKeys, "include-key", nil, "keep items whose key matches a glob (* only)")
}

func newCheckpointCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		req     client.CaptureRequest
		withGit bool
		gitDir  string
	)

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Snapshot the current session's items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}
			req.Name = args[0]

			if withGit {
				status, branch, err := gitSnapshot(cmd.Context(), gitDir)
				if err != nil {
					return WrapExitError(ExitUsage, "capturing git state", err)
				}
				req.GitStatus, req.GitBranch = status, branch
			}

			cp, err := opts.client.CreateCheckpoint(cmd.Context(), sid, req)
			if err != nil {
				return apiFailure("creating checkpoint", err)
			}
			return opts.printer.Emit(cp, func(w io.Writer) {
				fmt.Fprintf(w, "%s checkpoint ", green("Created"))
				renderCheckpoint(w, cp)
			})
		},
	}

	cmd.Flags().StringVar(&req.Description, "description", "", "checkpoint description")
	cmd.Flags().BoolVar(&withGit, "git", false, "record git branch and status")
	cmd.Flags().StringVar(&gitDir, "git-dir", ".", "repository to read with --git")
	addFilterFlags(cmd, &req.Filter)
	return cmd
}

// newCheckpointCompactCommand snapshots everything before an agent's context
// window is compacted and prints what to carry over.
func newCheckpointCompactCommand(opts *RootOptions) *cobra.Command {
	var (
		withGit bool
		gitDir  string
	)

	cmd := &cobra.Command{
		Use:     "compact",
		Aliases: []string{"compaction"},
		Short:   "Checkpoint the whole session and summarize its critical context",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}

			var status, branch string
			if withGit {
				if status, branch, err = gitSnapshot(cmd.Context(), gitDir); err != nil {
					return WrapExitError(ExitUsage, "capturing git state", err)
				}
			}

			res, err := opts.client.PrepareCompaction(cmd.Context(), sid, status, branch)
			if err != nil {
				return apiFailure("preparing compaction", err)
			}
			return opts.printer.Emit(res, func(w io.Writer) { renderCompaction(w, res) })
		},
	}

	cmd.Flags().BoolVar(&withGit, "git", false, "record git branch and status")
	cmd.Flags().StringVar(&gitDir, "git-dir", ".", "repository to read with --git")
	return cmd
}

func newCheckpointListCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints of the current session, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}
			cps, err := opts.client.ListCheckpoints(cmd.Context(), sid, limit)
			if err != nil {
				return apiFailure("listing checkpoints", err)
			}
			return opts.printer.Emit(cps, func(w io.Writer) {
				if len(cps) == 0 {
					fmt.Fprintln(w, faint("no checkpoints"))
					return
				}
				for _, cp := range cps {
					renderCheckpoint(w, cp)
				}
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum checkpoints to list")
	return cmd
}

func newCheckpointShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a checkpoint and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.client.GetCheckpoint(cmd.Context(), args[0])
			if err != nil {
				return apiFailure("getting checkpoint", err)
			}
			return opts.printer.Emit(d, func(w io.Writer) { renderCheckpointDetail(w, d) })
		},
	}
}

func newCheckpointRestoreCommand(opts *RootOptions) *cobra.Command {
	var f checkpoint.Filter

	cmd := &cobra.Command{
		Use:   "restore ID",
		Short: "Write a checkpoint's items back into its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *checkpoint.Filter
			if !f.IsZero() {
				filter = &f
			}
			res, err := opts.client.RestoreCheckpoint(cmd.Context(), args[0], filter)
			if err != nil {
				return apiFailure("restoring checkpoint", err)
			}
			return opts.printer.Emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "Restored %d of %d items into %s\n", res.RestoredCount, res.Attempted, res.SessionID)
			})
		},
	}

	addFilterFlags(cmd, &f)
	return cmd
}

// splitEntry is one element of a split spec file.
type splitEntry struct {
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description"`
	IncludeTags       []string `yaml:"include_tags"`
	ExcludeTags       []string `yaml:"exclude_tags"`
	IncludeCategories []string `yaml:"include_categories"`
	IncludeKeys       []string `yaml:"include_keys"`
}

// parseSplitSpecs reads a YAML or JSON list of split entries.
func parseSplitSpecs(data []byte) ([]checkpoint.SplitSpec, error) {
	var entries []splitEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing split specs: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("split specs: at least one entry is required")
	}

	specs := make([]checkpoint.SplitSpec, len(entries))
	for i, e := range entries {
		specs[i] = checkpoint.SplitSpec{
			Name:        e.Name,
			Description: e.Description,
			Filter: checkpoint.Filter{
				IncludeTags:       e.IncludeTags,
				ExcludeTags:       e.ExcludeTags,
				IncludeCategories: e.IncludeCategories,
				IncludeKeys:       e.IncludeKeys,
			},
		}
	}
	return specs, nil
}

func newCheckpointSplitCommand(opts *RootOptions) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "split ID --file SPECS",
		Short: "Derive new checkpoints from filtered subsets of ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if specFile == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(specFile)
			}
			if err != nil {
				return WrapExitError(ExitUsage, "reading split specs", err)
			}
			specs, err := parseSplitSpecs(data)
			if err != nil {
				return WrapExitError(ExitUsage, "invalid split specs", err)
			}

			parts, err := opts.client.SplitCheckpoint(cmd.Context(), args[0], specs)
			if err != nil {
				return apiFailure("splitting checkpoint", err)
			}
			return opts.printer.Emit(parts, func(w io.Writer) {
				for _, cp := range parts {
					renderCheckpoint(w, cp)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "", "YAML or JSON list of {name, description, include_tags, exclude_tags, include_categories, include_keys} (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCheckpointDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client.DeleteCheckpoint(cmd.Context(), args[0]); err != nil {
				return apiFailure("deleting checkpoint", err)
			}
			return opts.printer.Emit(map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted checkpoint %s\n", args[0])
			})
		},
	}
}

func newCheckpointExportCommand(opts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Write a checkpoint bundle to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" || output == "-" {
				_, err := opts.client.ExportCheckpoint(cmd.Context(), args[0], cmd.OutOrStdout())
				return apiFailure("exporting checkpoint", err)
			}

			f, err := os.Create(output)
			if err != nil {
				return WrapExitError(ExitUsage, "creating bundle file", err)
			}
			n, err := opts.client.ExportCheckpoint(cmd.Context(), args[0], f)
			if cerr := f.Close(); err == nil && cerr != nil {
				err = cerr
			}
			if err != nil {
				os.Remove(output)
				return apiFailure("exporting checkpoint", err)
			}
			return opts.printer.Emit(map[string]any{"path": output, "bytes": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Wrote %s (%d bytes)\n", output, n)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "bundle path (default stdout)")
	return cmd
}

func newCheckpointImportCommand(opts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load a checkpoint bundle into the current session (FILE - reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := opts.currentSession()
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitUsage, "opening bundle", err)
				}
				defer f.Close()
				r = f
			}

			cp, err := opts.client.ImportCheckpoint(cmd.Context(), sid, name, r)
			if err != nil {
				return apiFailure("importing checkpoint", err)
			}
			return opts.printer.Emit(cp, func(w io.Writer) {
				fmt.Fprintf(w, "%s checkpoint ", green("Imported"))
				renderCheckpoint(w, cp)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name for the imported checkpoint (default the bundle's)")
	return cmd
}
