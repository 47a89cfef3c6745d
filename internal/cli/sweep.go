package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"asset-recyclebin/internal/app"
	"asset-recyclebin/internal/model"
)

func newSweepCmd(root *rootOptions) *cobra.Command {
	var opts model.CleanupOptions

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Permanently delete entries whose retention period expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withCore(cmd, func(ctx context.Context, core *app.Core) error {
				report, err := core.Sweeper.AutoCleanup(ctx, opts)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				return root.output(cmd, report, func(w io.Writer) { printCleanupReport(w, report) })
			})
		},
	}

	cmd.Flags().StringVar(&opts.Module, "module", "", "only sweep this module")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "also sweep modules with auto delete disabled")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "count eligible entries without deleting them")
	return cmd
}

func printCleanupReport(w io.Writer, report model.CleanupReport) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	title := "Cleanup"
	if report.DryRun {
		title = "Cleanup (dry run)"
	}
	cyan.Fprintf(w, "%s\n", title)
	fmt.Fprintf(w, "  Checked:  %d\n", report.Checked)
	fmt.Fprintf(w, "  Eligible: %d\n", report.Eligible)
	green.Fprintf(w, "  Deleted:  %d\n", report.Deleted)
	fmt.Fprintf(w, "  Skipped:  %d\n", report.Skipped)
	if report.Errored > 0 {
		color.New(color.FgRed).Fprintf(w, "  Errored:  %d\n", report.Errored)
	}

	modules := make([]string, 0, len(report.Modules))
	for name := range report.Modules {
		modules = append(modules, name)
	}
	sort.Strings(modules)
	for _, name := range modules {
		stats := report.Modules[name]
		line := fmt.Sprintf("  %-16s checked=%d deleted=%d skipped=%d errored=%d", name, stats.Checked, stats.Deleted, stats.Skipped, stats.Errored)
		if !stats.AutoDeleteEnabled && !report.Forced {
			yellow.Fprintf(w, "%s (auto delete disabled)\n", line)
			continue
		}
		fmt.Fprintln(w, line)
	}

	for _, failure := range report.Failures {
		color.New(color.FgRed).Fprintf(w, "  failed %s (%s): %s\n", failure.EntryID, failure.Module, failure.Reason)
	}
}
