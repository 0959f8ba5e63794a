package executor

import "errors"

// Run-level errors: conditions that abort Run/RunWithCallback entirely
// rather than being recorded as a terminal ExitCode in the returned
// Session. Decode, execution and illegal-ecall conditions are
// deliberately not in this list: every error out of a single step
// (unknown T0, unknown syscall name, illegal halt type, illegal
// bigint op) is converted into a Fault exit code at the step call
// site, so it lands in the Session like any other fault.
var (
	// ErrSessionLimit is returned when a step's SessionLimit exit
	// code is surfaced by run_with_callback.
	ErrSessionLimit = errors.New("executor: session limit exceeded")

	// ErrTooManySegments is returned when the segment index would
	// overflow uint32.
	ErrTooManySegments = errors.New("executor: too many segments to fit in uint32")

	// ErrResumeAfterHalt is returned when Run/RunWithCallback is
	// called again on an executor that already produced ExitCode::Halted.
	ErrResumeAfterHalt = errors.New("executor: cannot resume an execution that exited with Halted")
)
