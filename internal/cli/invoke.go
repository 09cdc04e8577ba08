package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ltc/internal/harness"
	"github.com/roach88/ltc/internal/ir"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args     []string // one JSON value per operator argument
	Database string
	Repeat   int
}

// InvokeResult is the output of the invoke command.
type InvokeResult struct {
	Op      string           `json:"op"`
	Route   ir.Route         `json:"route"`
	Reason  ir.Reason        `json:"reason,omitempty"`
	Outputs [][]ir.ValueSpec `json:"outputs"` // one entry per repetition
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <op>",
		Short: "Dispatch one operator call",
		Long: `Dispatch one operator call through the lazy backend or the eager
fallback, following the active policy.

Each --arg is one argument in JSON, using the same value encoding as
scenario files. Lazy outputs are materialized before printing.

With --db (or store.path) every call is appended to the dispatch log.
--repeat issues the call N times concurrently.

Examples:
  ltc invoke add --arg '{"tensor":{"shape":[2],"device":"lazy","data":[1,2]}}' \
                 --arg '{"tensor":{"shape":[2],"device":"lazy","data":[3,4]}}'
  ltc invoke mm --arg '{"tensor":{"shape":[1,2],"data":[1,2]}}' \
                --arg '{"tensor":{"shape":[2,1],"data":[3,4]}}' --db ./ltc.db
  LTC_FALLBACK_MAIN_THREAD=1 ltc invoke exp --arg '{"tensor":{"shape":[1],"data":[0]}}' --repeat 8`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeOp(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "operator argument as JSON (repeatable)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for the dispatch log")
	cmd.Flags().IntVar(&opts.Repeat, "repeat", 1, "number of concurrent calls")

	return cmd
}

func invokeOp(opts *InvokeOptions, name string, cmd *cobra.Command) error {
	if opts.Repeat < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--repeat must be at least 1, got %d", opts.Repeat))
	}
	args, err := parseArgs(opts.Args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --arg", err)
	}

	ctx := cmd.Context()
	rt, err := opts.openRuntime(ctx, runtimeOptions{database: opts.Database})
	if err != nil {
		return err
	}
	defer rt.Close()

	f := opts.formatter(cmd)
	sym := ir.Intern(name)
	route, reason, err := rt.sess.Dispatcher.Route(sym)
	if err != nil {
		// Dispatch anyway so the rejected call is recorded.
		_, err = rt.sess.Invoke(ctx, name, args)
		_ = f.OpError(err, nil)
		return WrapExitError(ExitFailure, "invocation failed", err)
	}
	f.VerboseLog("dispatching %s via %s", sym, routeLabel(route, reason))

	outputs := make([][]ir.ValueSpec, opts.Repeat)
	g, gctx := errgroup.WithContext(ctx)
	for i := range outputs {
		i := i
		g.Go(func() error {
			out, err := rt.sess.Invoke(gctx, name, args)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = f.OpError(err, nil)
		return WrapExitError(ExitFailure, "invocation failed", err)
	}

	result := InvokeResult{Op: sym.String(), Route: route, Reason: reason, Outputs: outputs}
	if opts.Format == "json" {
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %s\n", result.Op, routeLabel(route, reason))
	for i, out := range outputs {
		formatted := make([]string, len(out))
		for j, v := range out {
			formatted[j] = harness.FormatValue(v)
		}
		if opts.Repeat > 1 {
			fmt.Fprintf(w, "  [%d] %s\n", i, strings.Join(formatted, " "))
		} else {
			fmt.Fprintf(w, "  %s\n", strings.Join(formatted, " "))
		}
	}
	return nil
}

// parseArgs decodes each --arg value.
func parseArgs(raw []string) ([]ir.ValueSpec, error) {
	args := make([]ir.ValueSpec, len(raw))
	for i, s := range raw {
		if err := json.Unmarshal([]byte(s), &args[i]); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return args, nil
}
