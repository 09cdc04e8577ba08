package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/ltc/internal/ir"
	"github.com/roach88/ltc/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	ID       string // show a single record
	Op       string
	Route    string
	Failed   bool
	Limit    int
	Summary  bool
}

// TraceStats holds summary statistics for the listed records.
type TraceStats struct {
	Total    int `json:"total"`
	Native   int `json:"native"`
	Fallback int `json:"fallback"`
	Rejected int `json:"rejected"`
	Pinned   int `json:"pinned"`
	Failed   int `json:"failed"`
}

// TraceResult holds the output of the trace command.
type TraceResult struct {
	Records []ir.DispatchRecord `json:"records"`
	Stats   TraceStats          `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the dispatch log",
		Long: `Inspect the dispatch records written by invoke --db and serve --db.

Records are listed in seq order with their route, fallback reason,
whether the call ran on the designated fallback thread, and any error.
--summary groups calls by operator, route and reason instead.

Examples:
  ltc trace --db ./ltc.db
  ltc trace --db ./ltc.db --route fallback --limit 20
  ltc trace --db ./ltc.db --op mm --failed
  ltc trace --db ./ltc.db --id 0192f0c4-...
  ltc trace --db ./ltc.db --summary --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (defaults to store.path)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "show the record with this ID")
	cmd.Flags().StringVar(&opts.Op, "op", "", "filter by operator")
	cmd.Flags().StringVar(&opts.Route, "route", "", "filter by route (native|fallback|rejected)")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only failed calls")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records (0 = all)")
	cmd.Flags().BoolVar(&opts.Summary, "summary", false, "per-operator summary")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	route := ir.Route(opts.Route)
	switch route {
	case "", ir.RouteNative, ir.RouteFallback, ir.RouteRejected:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid route %q: must be native, fallback or rejected", opts.Route))
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	f := opts.formatter(cmd)

	switch {
	case opts.ID != "":
		return showRecord(ctx, st, opts, f, cmd)
	case opts.Summary:
		return showSummary(ctx, st, opts, f)
	}

	filter := store.Filter{Route: route, FailedOnly: opts.Failed, Limit: opts.Limit}
	if opts.Op != "" {
		filter.Op = ir.Intern(opts.Op)
	}
	records, err := st.ReadRecords(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}

	result := TraceResult{Records: records, Stats: computeStats(records)}
	if opts.Format == "json" {
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(w, "No dispatch records found.")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			strconv.FormatInt(rec.Seq, 10),
			rec.Op.String(),
			routeLabel(rec.Route, rec.Reason),
			strconv.FormatBool(rec.Pinned),
			strconv.FormatInt(rec.DurationMicros, 10),
			string(rec.ErrorCode),
		})
	}
	if err := f.Table([]string{"Seq", "Op", "Route", "Pinned", "Duration (us)", "Error"}, rows); err != nil {
		return err
	}

	s := result.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Records: %d (native %d, fallback %d, rejected %d)\n", s.Total, s.Native, s.Fallback, s.Rejected)
	fmt.Fprintf(w, "Pinned:  %d\n", s.Pinned)
	fmt.Fprintf(w, "Failed:  %d\n", s.Failed)
	return nil
}

// openStore opens the configured database. A missing file is an error
// rather than an empty log.
func (o *TraceOptions) openStore() (*store.Store, error) {
	path := o.Database
	if path == "" {
		cfg, err := o.loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Store.Path
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no database: pass --db or set store.path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func showRecord(ctx context.Context, st *store.Store, opts *TraceOptions, f *OutputFormatter, cmd *cobra.Command) error {
	rec, err := st.ReadRecord(ctx, opts.ID)
	if errors.Is(err, sql.ErrNoRows) {
		msg := fmt.Sprintf("no dispatch record with id %s", opts.ID)
		_ = f.Error("E_NOT_FOUND", msg, nil)
		return NewExitError(ExitFailure, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read record", err)
	}
	if opts.Format == "json" {
		return f.Success(rec)
	}

	rows := [][]string{
		{"ID", rec.ID},
		{"Seq", strconv.FormatInt(rec.Seq, 10)},
		{"Op", rec.Op.String()},
		{"Route", routeLabel(rec.Route, rec.Reason)},
		{"Pinned", strconv.FormatBool(rec.Pinned)},
		{"Args digest", rec.ArgsDigest},
		{"Duration (us)", strconv.FormatInt(rec.DurationMicros, 10)},
	}
	if rec.Failed() {
		rows = append(rows, []string{"Error code", string(rec.ErrorCode)}, []string{"Error", rec.Error})
	}
	return f.Table([]string{"Property", "Value"}, rows)
}

func showSummary(ctx context.Context, st *store.Store, opts *TraceOptions, f *OutputFormatter) error {
	sums, err := st.Summary(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to summarize records", err)
	}
	if opts.Format == "json" {
		return f.Success(sums)
	}

	rows := make([][]string, 0, len(sums))
	for _, s := range sums {
		rows = append(rows, []string{
			s.Op.String(),
			routeLabel(s.Route, s.Reason),
			strconv.FormatInt(s.Calls, 10),
			strconv.FormatInt(s.Failed, 10),
		})
	}
	return f.Table([]string{"Op", "Route", "Calls", "Failed"}, rows)
}

// computeStats calculates summary statistics for records.
func computeStats(records []ir.DispatchRecord) TraceStats {
	stats := TraceStats{Total: len(records)}
	for _, rec := range records {
		switch rec.Route {
		case ir.RouteNative:
			stats.Native++
		case ir.RouteFallback:
			stats.Fallback++
		case ir.RouteRejected:
			stats.Rejected++
		}
		if rec.Pinned {
			stats.Pinned++
		}
		if rec.Failed() {
			stats.Failed++
		}
	}
	return stats
}
