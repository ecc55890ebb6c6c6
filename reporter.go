package memspot

import (
	"fmt"
	"io"
	"os"

	"github.com/vkngwrapper/memspot/stacktrace"
)

// Reporter receives fatal memory violations detected by a Registry. Reporters do not need to
// terminate the process themselves: if ReportViolation returns, the registry panics with the
// violation, so the failing operation can never return to its caller.
type Reporter interface {
	ReportViolation(violation *Violation)
}

// AbortReporter writes a human-readable violation report with a stack trace and terminates the
// process. It is the reporter used by registries created without an explicit Reporter option.
type AbortReporter struct {
	// Output is the destination for the report. When it is nil, the report is written to os.Stderr.
	Output io.Writer

	exit func(code int)
}

func (r *AbortReporter) ReportViolation(violation *Violation) {
	output := r.Output
	if output == nil {
		output = os.Stderr
	}

	fmt.Fprintf(output, "Error: %s\n", violation.Error())
	stacktrace.Write(output, violation.Stack)

	exit := r.exit
	if exit == nil {
		exit = os.Exit
	}
	exit(2)
}

// CaptureReporter collects violations instead of terminating the process. It is intended for tests
// that provoke violations deliberately: the registry still panics with the violation after it has
// been captured, and the test can recover the panic and inspect the collected violations. It is not
// synchronized and should only be used from one goroutine at a time.
type CaptureReporter struct {
	Violations []*Violation
}

func (r *CaptureReporter) ReportViolation(violation *Violation) {
	r.Violations = append(r.Violations, violation)
}
