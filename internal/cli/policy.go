package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"asset-recyclebin/internal/app"
	"asset-recyclebin/internal/model"
)

func newPolicyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Retention policies",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored retention policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withCore(cmd, func(ctx context.Context, core *app.Core) error {
				policies, err := core.Service.ListPolicies(ctx)
				if err != nil {
					return fmt.Errorf("list policies: %w", err)
				}
				return root.output(cmd, policies, func(w io.Writer) { printPolicies(w, policies) })
			})
		},
	}

	recompute := &cobra.Command{
		Use:   "recompute <module>",
		Short: "Recalculate the auto delete date of active entries from the current policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withCore(cmd, func(ctx context.Context, core *app.Core) error {
				result, err := core.Service.RecomputeExisting(ctx, root.principal(), args[0], root.requestContext(cmd))
				if err != nil {
					return fmt.Errorf("recompute %s: %w", args[0], err)
				}
				return root.output(cmd, result, func(w io.Writer) {
					color.New(color.FgGreen).Fprintf(w, "Module %s: %d checked, %d updated, %d unchanged\n",
						result.Module, result.Checked, result.Updated, result.Unchanged)
				})
			})
		},
	}

	cmd.AddCommand(list, recompute)
	return cmd
}

func printPolicies(w io.Writer, policies []model.RetentionPolicy) {
	if len(policies) == 0 {
		fmt.Fprintln(w, "No policies stored; modules use the default 30 day retention.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tRETENTION\tWARNING\tFINAL\tAUTO DELETE\tRESTORE OWN\tRESTORE OTHERS")
	for _, p := range policies {
		fmt.Fprintf(tw, "%s\t%dd\t%dd\t%dd\t%t\t%t\t%t\n",
			p.ModuleName, p.RetentionDays, p.WarningDaysBefore, p.FinalWarningDaysBefore,
			p.AutoDeleteEnabled, p.CanRestoreOwn, p.CanRestoreOthers)
	}
	tw.Flush()
}
