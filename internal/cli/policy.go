package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/session"
)

// PolicyResult is the output of the policy command.
type PolicyResult struct {
	Policy session.PolicyInfo `json:"policy"`
	Ops    []session.OpInfo   `json:"ops,omitempty"`
}

// NewPolicyCommand creates the policy command.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy [op...]",
		Short: "Show the active fallback policy",
		Long: `Show the fallback policy resolved from defaults, --config and
the environment (LTC_FALLBACK_MAIN_THREAD, LTC_FALLBACK_FORCE).

With operator names, also report the route a call to each would take.

Examples:
  ltc policy
  ltc policy mm aten::add
  LTC_FALLBACK_FORCE=add ltc policy add --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicy(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runPolicy(opts *RootOptions, ops []string, cmd *cobra.Command) error {
	rt, err := opts.openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	f := opts.formatter(cmd)
	result := PolicyResult{Policy: rt.sess.Policy()}
	for _, name := range ops {
		info, ok := rt.sess.Op(name)
		if !ok {
			msg := fmt.Sprintf("operator %s is not registered", ir.Intern(name))
			_ = f.Error(string(ir.ErrCodeInvalidInvocation), msg, nil)
			return NewExitError(ExitFailure, msg)
		}
		result.Ops = append(result.Ops, info)
	}

	if opts.Format == "json" {
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "fallback_main_thread: %t\n", result.Policy.FallbackMainThread)
	fmt.Fprintf(w, "force: %s\n", joinOrNone(result.Policy.Force))
	fmt.Fprintf(w, "native: %s\n", joinOrNone(result.Policy.Native))
	for _, info := range result.Ops {
		fmt.Fprintf(w, "%s: %s\n", info.Op, routeLabel(info.Route, info.Reason))
	}
	return nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func routeLabel(route ir.Route, reason ir.Reason) string {
	if reason == "" {
		return string(route)
	}
	return fmt.Sprintf("%s (%s)", route, reason)
}
