package cli

import (
	"fmt"
	"os"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/cobra"

	"github.com/roach88/ltc/internal/config"
)

// Validation error codes.
const (
	ErrCodeSchema   = "E_SCHEMA"   // file does not satisfy the config schema
	ErrCodeResolved = "E_RESOLVED" // merged file and environment values are invalid
)

// ValidationIssue is one problem found in a config file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
	Config *config.Config    `json:"config,omitempty"` // resolved, when valid
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a config file",
		Long: `Validate a YAML config file against the config schema, then
resolve it with the LTC_* environment and check the merged values.

Unknown keys, wrong types and out-of-range values are reported with
their path. On success the resolved configuration is printed.

Examples:
  ltc validate ./ltc.yaml
  LTC_FALLBACK_FORCE=add,mul ltc validate ./ltc.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error("E_NOT_FOUND", fmt.Sprintf("config file not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "config file not found", err)
	}

	formatter.VerboseLog("Checking %s against the config schema", path)
	if err := config.ValidateFile(path); err != nil {
		return outputValidationErrors(formatter, schemaIssues(err))
	}

	formatter.VerboseLog("Resolving %s with the environment", path)
	cfg, err := config.Load(path)
	if err != nil {
		return outputValidationErrors(formatter, resolvedIssues(err))
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: &cfg})
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Config valid")
	fmt.Fprintf(w, "  fallback.main_thread: %t\n", cfg.Fallback.MainThread)
	fmt.Fprintf(w, "  fallback.force:       %s\n", joinOrNone(cfg.Fallback.Force))
	fmt.Fprintf(w, "  backend.native:       %d operators\n", len(cfg.Backend.Native))
	fmt.Fprintf(w, "  store.path:           %s\n", orNone(cfg.Store.Path))
	fmt.Fprintf(w, "  log:                  %s/%s\n", cfg.Log.Level, cfg.Log.Format)
	fmt.Fprintf(w, "  server.addr:          %s\n", cfg.Server.Addr)
	return nil
}

// schemaIssues splits a schema error into one issue per CUE error.
func schemaIssues(err error) []ValidationIssue {
	var issues []ValidationIssue
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if msg == "" {
			msg = e.Error()
		}
		issues = append(issues, ValidationIssue{
			Code:    ErrCodeSchema,
			Path:    strings.Join(e.Path(), "."),
			Message: msg,
		})
	}
	if len(issues) == 0 {
		issues = append(issues, ValidationIssue{Code: ErrCodeSchema, Message: err.Error()})
	}
	return issues
}

// resolvedIssues splits a joined Load error into one issue per cause.
func resolvedIssues(err error) []ValidationIssue {
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	issues := make([]ValidationIssue, 0, len(errs))
	for _, e := range errs {
		issues = append(issues, ValidationIssue{Code: ErrCodeResolved, Message: e.Error()})
	}
	return issues
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}
		if err := formatter.encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Path != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", issue.Code, issue.Path, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Code, issue.Message)
		}
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
