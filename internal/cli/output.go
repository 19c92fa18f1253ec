package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/voicerank/internal/model"
)

// Process exit codes.
//
//	0  command succeeded
//	1  the ledger or policy rejected the request (SESSION_NOT_OPEN,
//	   DUPLICATE_TIER, failing scenarios)
//	2  the command itself could not run (bad arguments, unreadable database)
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ErrCodeGeneric is reported for failures that carry no domain error code.
const ErrCodeGeneric = "E001"

// ExitError carries the process exit code out of a RunE.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as one JSON document per call, or as
// plain text lines.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose diagnostics; keeps JSON on Writer clean
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError describes a failed command.
type CLIError struct {
	Code    string      `json:"code"` // ledger code such as SESSION_NOT_OPEN, or E0xx
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// KeyDetails names the member and community a ledger error refers to.
type KeyDetails struct {
	MemberID    string `json:"member_id,omitempty"`
	CommunityID string `json:"community_id,omitempty"`
}

// Success writes data.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format != "json" {
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
}

// Error writes a failure with an explicit code.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Failure writes a ledger, policy, or sink error using its model code and
// key. It reports whether err carried a model code at all.
func (f *OutputFormatter) Failure(err error) (bool, error) {
	var me *model.Error
	if !errors.As(err, &me) {
		return false, f.Error(ErrCodeGeneric, err.Error(), nil)
	}
	var details interface{}
	if me.MemberID != "" || me.CommunityID != "" {
		details = KeyDetails{MemberID: me.MemberID, CommunityID: me.CommunityID}
	}
	return true, f.Error(string(me.Code), me.Message, details)
}

// VerboseLog writes a diagnostic line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
