package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"asset-recyclebin/internal/app"
	"asset-recyclebin/internal/config"
	"asset-recyclebin/internal/logger"
	"asset-recyclebin/internal/model"
)

// CoreFactory opens the recycle bin the commands operate on.
type CoreFactory func(ctx context.Context) (*app.Core, error)

// OpenFromEnv loads the server configuration (environment and .env) and
// logs to stderr so command output stays machine readable.
func OpenFromEnv(ctx context.Context) (*app.Core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.NewCore(ctx, cfg, logger.New(os.Stderr, cfg.LogFormat, cfg.LogLevel))
}

type rootOptions struct {
	open     CoreFactory
	json     bool
	operator string
}

// NewRootCmd builds the recyclebinctl command tree.
func NewRootCmd(open CoreFactory) *cobra.Command {
	opts := &rootOptions{open: open}

	root := &cobra.Command{
		Use:   "recyclebinctl",
		Short: "Operate the asset registry recycle bin",
		Long: `recyclebinctl runs maintenance tasks against the recycle bin database:
retention sweeps, lockout releases, policy recomputation and security reports.
It reads the same environment as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(&opts.operator, "operator", defaultOperator(), "operator name recorded in the audit trail")

	root.AddCommand(
		newSweepCmd(opts),
		newExpiringCmd(opts),
		newPurgeCmd(opts),
		newStatusCmd(opts),
		newUnlockCmd(opts),
		newPolicyCmd(opts),
		newSecurityCmd(opts),
	)
	return root
}

// Execute runs the CLI against the configured database.
func Execute() {
	if err := NewRootCmd(OpenFromEnv).Execute(); err != nil {
		fmtErr(os.Stderr, err)
		os.Exit(1)
	}
}

func fmtErr(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprint(w, "recyclebinctl:")
	fmt.Fprintf(w, " %v\n", err)
}

// withCore opens the recycle bin, runs fn and closes it again.
func (o *rootOptions) withCore(cmd *cobra.Command, fn func(ctx context.Context, core *app.Core) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	core, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	return fn(ctx, core)
}

// principal is the administrator identity commands act as.
func (o *rootOptions) principal() model.Principal {
	return model.Principal{ID: "cli:" + o.operator, Username: o.operator, Role: model.RoleAdmin}
}

func (o *rootOptions) requestContext(cmd *cobra.Command) model.RequestContext {
	return model.RequestContext{UserAgent: "recyclebinctl", RequestPath: cmd.CommandPath()}
}

// output writes v as JSON when --json is set and calls human otherwise.
func (o *rootOptions) output(cmd *cobra.Command, v any, human func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

func defaultOperator() string {
	if name := os.Getenv("RECYCLEBIN_OPERATOR"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}
