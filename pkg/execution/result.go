/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: result.go
Description: Execution outcome and harness state types. Every run of the target is
classified into exactly one Kind, and setup problems in the harness are kept apart
from target crashes.
*/

package execution

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

var (
	// ErrChildSetup means the child could not be started or failed before running the target
	ErrChildSetup = errors.New("child setup failed")
	// ErrBusy is returned when Execute is called while another execution is in flight
	ErrBusy = errors.New("harness busy")
	// ErrUnclassified means the wait status was neither an exit nor a signal
	ErrUnclassified = errors.New("unclassified wait status")
)

// Kind classifies how one execution ended
type Kind int

const (
	// NormalExit means the target exited on its own with an exit code
	NormalExit Kind = iota
	// Crash means the target was terminated by a signal other than the kill signal
	Crash
	// Timeout means the target ran past its deadline and was killed
	Timeout
	// InternalError means the harness itself failed and the target never ran properly
	InternalError
)

// String returns the lower-case name of the kind
func (k Kind) String() string {
	switch k {
	case NormalExit:
		return "normal_exit"
	case Crash:
		return "crash"
	case Timeout:
		return "timeout"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Result describes one execution of the target
type Result struct {
	Kind     Kind
	ExitCode int
	Signal   syscall.Signal
	PID      int
	Input    int32
	Duration time.Duration
	Err      error
}

// IsFinding reports whether the result should be persisted as a finding
func (r *Result) IsFinding() bool {
	return r.Kind == Crash || r.Kind == Timeout
}

// Completed reports whether the target actually ran to a classified end.
// Coverage from internal errors must not be trusted.
func (r *Result) Completed() bool {
	return r.Kind != InternalError
}

// String returns a short description for logs
func (r *Result) String() string {
	switch r.Kind {
	case NormalExit:
		return fmt.Sprintf("exit(%d)", r.ExitCode)
	case Crash:
		return fmt.Sprintf("crash(%s)", r.Signal)
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("internal error: %v", r.Err)
	}
}

// State tracks the harness through one execution
type State int

const (
	StateIdle State = iota
	StatePipeCreated
	StateForked
	StateParentWaiting
	StateCompleted
	StateTimedOut
	StateCrashed
	StateSetupFailed
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StatePipeCreated:   "pipe_created",
	StateForked:        "forked",
	StateParentWaiting: "parent_waiting",
	StateCompleted:     "completed",
	StateTimedOut:      "timed_out",
	StateCrashed:       "crashed",
	StateSetupFailed:   "setup_failed",
}

// String returns the state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func terminalState(k Kind) State {
	switch k {
	case NormalExit:
		return StateCompleted
	case Crash:
		return StateCrashed
	case Timeout:
		return StateTimedOut
	default:
		return StateSetupFailed
	}
}
