package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"asset-recyclebin/internal/app"
	"asset-recyclebin/internal/model"
)

type principalStatus struct {
	Lockout   model.LockoutStatus   `json:"lockout"`
	RateLimit model.RateLimitStatus `json:"rate_limit"`
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <principal-id>",
		Short: "Show the lockout and rate limit state of a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withCore(cmd, func(ctx context.Context, core *app.Core) error {
				lockout, err := core.Service.LockoutStatus(ctx, args[0])
				if err != nil {
					return fmt.Errorf("lockout status: %w", err)
				}
				rateLimit, err := core.Service.RateLimitStatus(ctx, args[0])
				if err != nil {
					return fmt.Errorf("rate limit status: %w", err)
				}

				status := principalStatus{Lockout: lockout, RateLimit: rateLimit}
				return root.output(cmd, status, func(w io.Writer) { printStatus(w, status) })
			})
		},
	}
}

func printStatus(w io.Writer, status principalStatus) {
	fmt.Fprintf(w, "Principal: %s\n", status.Lockout.PrincipalID)
	fmt.Fprintf(w, "  Level: %s (%d failed attempts in 24h)\n", status.Lockout.Level, status.Lockout.FailedAttempts24h)
	if status.Lockout.IsLocked {
		color.New(color.FgRed).Fprintf(w, "  Locked: %d minutes remaining\n", status.Lockout.MinutesRemaining)
		if status.Lockout.RequiresAdminUnlock {
			color.New(color.FgRed, color.Bold).Fprintln(w, "  Requires admin unlock")
		}
	} else {
		color.New(color.FgGreen).Fprintf(w, "  Not locked, %d attempts remaining\n", status.Lockout.RemainingAttempts)
	}
	if status.Lockout.CaptchaRequired {
		color.New(color.FgYellow).Fprintln(w, "  CAPTCHA required")
	}

	rl := status.RateLimit
	fmt.Fprintf(w, "  Rate limit: %d/%d in %d minutes", rl.Attempts, rl.Max, rl.WindowMinutes)
	if rl.Limited {
		color.New(color.FgRed).Fprintf(w, " (limited, resets in %d minutes)", rl.MinutesUntilReset)
	}
	fmt.Fprintln(w)
}

func newUnlockCmd(root *rootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "unlock <principal-id>",
		Short: "Release a lockout, critical ones included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withCore(cmd, func(ctx context.Context, core *app.Core) error {
				status, err := core.Service.AdminUnlock(ctx, root.principal(), args[0], reason, root.requestContext(cmd))
				if err != nil {
					return fmt.Errorf("unlock %s: %w", args[0], err)
				}
				return root.output(cmd, status, func(w io.Writer) {
					color.New(color.FgGreen).Fprintf(w, "Principal %s unlocked.\n", args[0])
				})
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the lock is released (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newSecurityCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "security",
		Short: "Security gate reports",
	}

	var summaryHours int
	summary := &cobra.Command{
		Use:   "summary [principal-id]",
		Short: "Aggregate gate attempts, optionally for one principal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			principalID := ""
			if len(args) == 1 {
				principalID = args[0]
			}
			return root.withCore(cmd, func(ctx context.Context, core *app.Core) error {
				result, err := core.Service.GetSecuritySummary(ctx, principalID, time.Duration(summaryHours)*time.Hour)
				if err != nil {
					return fmt.Errorf("security summary: %w", err)
				}
				return root.output(cmd, result, func(w io.Writer) { printSummary(w, result) })
			})
		},
	}
	summary.Flags().IntVar(&summaryHours, "hours", 24, "reporting window in hours")

	var reportHours int
	report := &cobra.Command{
		Use:   "report",
		Short: "Flag principals and addresses with repeated failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withCore(cmd, func(ctx context.Context, core *app.Core) error {
				result, err := core.Service.GetSuspiciousActivityReport(ctx, reportHours)
				if err != nil {
					return fmt.Errorf("suspicious activity report: %w", err)
				}
				return root.output(cmd, result, func(w io.Writer) { printSuspicious(w, result) })
			})
		},
	}
	report.Flags().IntVar(&reportHours, "hours", 24, "reporting window in hours")

	cmd.AddCommand(summary, report)
	return cmd
}

func printSummary(w io.Writer, s model.SecuritySummary) {
	color.New(color.FgCyan).Fprintf(w, "Security summary since %s\n", s.Since.Format(time.RFC3339))
	fmt.Fprintf(w, "  Attempts:   %d (%d failed, %d successful)\n", s.TotalAttempts, s.FailedAttempts, s.SuccessfulAttempts)
	fmt.Fprintf(w, "  Principals: %d\n", s.UniquePrincipals)
	fmt.Fprintf(w, "  Addresses:  %d\n", s.UniqueIPs)

	outcomes := make([]string, 0, len(s.ByOutcome))
	for outcome, n := range s.ByOutcome {
		outcomes = append(outcomes, fmt.Sprintf("%s=%d", outcome, n))
	}
	sort.Strings(outcomes)
	if len(outcomes) > 0 {
		fmt.Fprintf(w, "  Outcomes:   %s\n", strings.Join(outcomes, " "))
	}

	for _, locked := range s.CurrentlyLocked {
		color.New(color.FgRed).Fprintf(w, "  locked %s (%s, %d minutes)\n", locked.PrincipalID, locked.Level, locked.MinutesRemaining)
	}
}

func printSuspicious(w io.Writer, r model.SuspiciousActivityReport) {
	color.New(color.FgCyan).Fprintf(w, "Suspicious activity since %s\n", r.Since.Format(time.RFC3339))
	fmt.Fprintf(w, "  Unauthorized access: %d\n", r.UnauthorizedAccess)
	fmt.Fprintf(w, "  Security violations: %d\n", r.SecurityViolations)

	if len(r.Principals) == 0 && len(r.IPAddresses) == 0 {
		color.New(color.FgGreen).Fprintln(w, "  Nothing flagged.")
		return
	}

	yellow := color.New(color.FgYellow)
	for _, p := range r.Principals {
		yellow.Fprintf(w, "  principal %s (%s): %d failures, level %s\n", p.PrincipalID, p.Username, p.FailedAttempts, p.Level)
	}
	for _, ip := range r.IPAddresses {
		yellow.Fprintf(w, "  address %s: %d failures across %d accounts\n", ip.IPAddress, ip.FailedAttempts, ip.DistinctAccounts)
	}
}
