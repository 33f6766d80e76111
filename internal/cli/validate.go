package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cadmalab/flowstore/internal/flowdef"
)

// ValidationResult holds the outcome of validating a flow definition.
type ValidationResult struct {
	Valid  bool                      `json:"valid"`
	Errors []flowdef.ValidationError `json:"errors,omitempty"`
}

func newValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition.cue>",
		Short: "Validate a flow definition without running it",
		Long: `Validate a CUE flow definition. Performs syntax checking, schema
validation, and dependency consistency checks without touching the
record store.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)

			src, err := os.ReadFile(args[0])
			if err != nil {
				_ = f.Error("READ_ERROR", err.Error())
				return &ExitError{Code: ExitCommandError, Message: "read definition", Err: err}
			}

			def, err := flowdef.CompileString(string(src))
			if err != nil {
				var cerr *flowdef.CompileError
				if errors.As(err, &cerr) {
					return outputValidationErrors(f, []flowdef.ValidationError{{
						Field:   cerr.Field,
						Message: cerr.Message,
						Code:    "D100",
					}})
				}
				return outputValidationErrors(f, []flowdef.ValidationError{{
					Field:   "definition",
					Message: err.Error(),
					Code:    "D100",
				}})
			}
			f.VerboseLog("Compiled flow %q with %d step(s)", def.Name, len(def.Steps))

			if errs := flowdef.Validate(def); len(errs) > 0 {
				return outputValidationErrors(f, errs)
			}

			if f.Format == "json" {
				return f.Success(ValidationResult{Valid: true})
			}
			fmt.Fprintln(f.Writer, "✓ Flow definition valid")
			return nil
		},
	}
}

func outputValidationErrors(f *OutputFormatter, errs []flowdef.ValidationError) error {
	if f.Format == "json" {
		resp := Response{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &ResponseError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		if err := json.NewEncoder(f.Writer).Encode(resp); err != nil {
			return err
		}
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("validation failed with %d error(s)", len(errs))}
	}

	fmt.Fprintln(f.Writer, "✗ Validation failed")
	fmt.Fprintln(f.Writer)
	for _, e := range errs {
		fmt.Fprintf(f.Writer, "  %s %s: %s\n", e.Code, e.Field, e.Message)
	}
	return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("validation failed with %d error(s)", len(errs))}
}
