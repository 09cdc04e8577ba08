package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewOpsCommand creates the ops command.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List registered operators and their routes",
		Long: `List every registered operator with its signature, whether the
lazy backend implements it, whether the policy forces it to fall back,
and the resulting route.

Examples:
  ltc ops
  ltc ops --config ltc.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOps(rootOpts, cmd)
		},
	}
	return cmd
}

func runOps(opts *RootOptions, cmd *cobra.Command) error {
	rt, err := opts.openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	f := opts.formatter(cmd)
	ops := rt.sess.Ops()
	if opts.Format == "json" {
		return f.Success(ops)
	}

	rows := make([][]string, 0, len(ops))
	for _, info := range ops {
		rows = append(rows, []string{
			info.Op,
			info.Signature,
			strconv.FormatBool(info.Native),
			strconv.FormatBool(info.Forced),
			routeLabel(info.Route, info.Reason),
		})
	}
	return f.Table([]string{"Op", "Signature", "Native", "Forced", "Route"}, rows)
}
