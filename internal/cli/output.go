// Package cli implements the sca command surface on cobra: init, index,
// search, reindex, clear, status, jobs, config, and info. Machine-readable
// output goes to stdout; logs and progress go to stderr.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/sca/pkg/types"
)

// OutputMode selects the stdout format.
type OutputMode string

const (
	OutputText   OutputMode = "text"
	OutputJSON   OutputMode = "json"
	OutputNDJSON OutputMode = "ndjson"
)

// Exit codes of the binary.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitBadUsage  = 2
	ExitCancelled = 3
)

// errorDTO is the stable wire shape for failures. class and cause are not
// exposed.
type errorDTO struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Kind    string            `json:"kind"`
	Meta    map[string]string `json:"meta,omitempty"`
}

type failureBody struct {
	OK    bool     `json:"ok"`
	Error errorDTO `json:"error"`
}

type successBody struct {
	OK   bool `json:"ok"`
	Data any  `json:"data"`
}

// WireErrorCode maps an envelope code to its wire form: uppercased, ':'
// replaced by '_', prefixed ERR_.
func WireErrorCode(code string) string {
	return "ERR_" + strings.ToUpper(strings.ReplaceAll(code, ":", "_"))
}

// Printer renders results and errors for one output mode.
type Printer struct {
	mode   OutputMode
	stdout io.Writer
	stderr io.Writer
}

// NewPrinter creates a printer. Agent mode forces NDJSON upstream.
func NewPrinter(mode OutputMode, stdout, stderr io.Writer) *Printer {
	return &Printer{mode: mode, stdout: stdout, stderr: stderr}
}

// Mode returns the active output mode.
func (p *Printer) Mode() OutputMode { return p.mode }

// Success emits a success payload. In text mode the text form is printed; in
// json/ndjson the {ok:true, data} envelope is emitted.
func (p *Printer) Success(data any, text func(io.Writer)) error {
	switch p.mode {
	case OutputJSON:
		return p.encode(successBody{OK: true, Data: data}, true)
	case OutputNDJSON:
		return p.encode(successBody{OK: true, Data: data}, false)
	default:
		if text != nil {
			text(p.stdout)
		}
		return nil
	}
}

// Failure emits the error to stderr as a single structured line and, in
// machine modes, the error DTO to stdout. Returns the process exit code.
func (p *Printer) Failure(envErr *types.ErrorEnvelope) int {
	fmt.Fprintf(p.stderr, "error: %s (%s)\n", envErr.Message, envErr.Code)

	if p.mode == OutputJSON || p.mode == OutputNDJSON {
		body := failureBody{
			OK: false,
			Error: errorDTO{
				Code:    WireErrorCode(envErr.Code),
				Message: envErr.Message,
				Kind:    strings.ToUpper(string(envErr.Kind)),
				Meta:    types.RedactMetadata(envErr.Metadata),
			},
		}
		_ = p.encode(body, p.mode == OutputJSON)
	}
	return ExitCode(envErr)
}

func (p *Printer) encode(body any, indent bool) error {
	encoder := json.NewEncoder(p.stdout)
	if indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(body)
}

// ExitCode maps an envelope to the documented exit codes: 3 for
// cancellation, 2 for validation and bad usage, 1 otherwise.
func ExitCode(envErr *types.ErrorEnvelope) int {
	if envErr == nil {
		return ExitOK
	}
	if envErr.IsCancelled() {
		return ExitCancelled
	}
	switch envErr.Code {
	case types.CodeInvalidValue, types.CodeInvalidPath, types.CodeInvalidFilterExpr, types.CodeSplitterInput:
		return ExitBadUsage
	}
	return ExitFailure
}
