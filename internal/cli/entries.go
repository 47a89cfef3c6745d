package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"asset-recyclebin/internal/app"
	"asset-recyclebin/internal/model"
)

func newExpiringCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expiring",
		Short: "List active entries inside their expiry warning window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withCore(cmd, func(ctx context.Context, core *app.Core) error {
				views, err := core.Service.ExpiryWarnings(ctx)
				if err != nil {
					return fmt.Errorf("expiry warnings: %w", err)
				}
				return root.output(cmd, views, func(w io.Writer) { printExpiring(w, views) })
			})
		},
	}
}

func printExpiring(w io.Writer, views []model.EntryView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No entries are close to expiry.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tOBJECT\tMODULE\tEXPIRES\tDAYS\tLEVEL")
	for _, view := range views {
		level := string(view.WarningLevel)
		if view.WarningLevel == model.WarningFinal {
			level = color.RedString(level)
		} else {
			level = color.YellowString(level)
		}
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%d\t%s\n",
			view.ID, view.ObjectType, view.ObjectID, view.ModuleName,
			view.AutoDeleteAt.Format(time.DateOnly), view.DaysRemaining, level)
	}
	tw.Flush()
}

func newPurgeCmd(root *rootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "purge <entry-id>",
		Short: "Remove a restored or permanently deleted entry; its audit rows are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withCore(cmd, func(ctx context.Context, core *app.Core) error {
				if err := core.Service.PurgeClosedEntry(ctx, root.principal(), args[0], reason, root.requestContext(cmd)); err != nil {
					return fmt.Errorf("purge %s: %w", args[0], err)
				}
				result := map[string]any{"entry_id": args[0], "purged": true}
				return root.output(cmd, result, func(w io.Writer) {
					color.New(color.FgGreen).Fprintf(w, "Entry %s purged.\n", args[0])
				})
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the entry is purged (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
