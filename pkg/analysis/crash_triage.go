/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: crash_triage.go
Description: Crash triage for integer-input targets. Maps the terminating signal of a
crashed or hung execution onto a crash type and severity so findings can be reported and
bucketed without access to target output.
*/

package analysis

import (
	"fmt"
	"syscall"

	"github.com/kleascm/akaylee-greybox/pkg/execution"
)

// CrashSeverity represents the severity level of a crash
type CrashSeverity int

const (
	SeverityLow CrashSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of crash severity
func (s CrashSeverity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// CrashType represents the type of crash detected
type CrashType string

const (
	CrashTypeSegfault      CrashType = "SEGFAULT"
	CrashTypeBusError      CrashType = "BUS_ERROR"
	CrashTypeAbort         CrashType = "ABORT"
	CrashTypeArithmetic    CrashType = "ARITHMETIC"
	CrashTypeIllegal       CrashType = "ILLEGAL_INSTRUCTION"
	CrashTypeTrap          CrashType = "TRAP"
	CrashTypeTimeout       CrashType = "TIMEOUT"
	CrashTypeUnknownSignal CrashType = "UNKNOWN"
)

type signalInfo struct {
	crashType   CrashType
	severity    CrashSeverity
	description string
}

var signalTable = map[syscall.Signal]signalInfo{
	syscall.SIGSEGV: {CrashTypeSegfault, SeverityCritical, "invalid memory access"},
	syscall.SIGBUS:  {CrashTypeBusError, SeverityHigh, "misaligned or unmapped memory access"},
	syscall.SIGABRT: {CrashTypeAbort, SeverityHigh, "abort, usually a failed assertion or sanitizer report"},
	syscall.SIGFPE:  {CrashTypeArithmetic, SeverityMedium, "arithmetic fault such as division by zero"},
	syscall.SIGILL:  {CrashTypeIllegal, SeverityHigh, "illegal instruction"},
	syscall.SIGTRAP: {CrashTypeTrap, SeverityMedium, "trap, usually a compiler-inserted check"},
}

// TriageResult contains the triage analysis of a finding
type TriageResult struct {
	Input       int32
	Kind        execution.Kind
	Signal      syscall.Signal
	CrashType   CrashType
	Severity    CrashSeverity
	Description string
	// Bucket groups findings that ended the same way
	Bucket string
}

// Triage classifies a crash or timeout result. Other results yield nil.
func Triage(result *execution.Result) *TriageResult {
	if result == nil || !result.IsFinding() {
		return nil
	}

	tr := &TriageResult{
		Input:  result.Input,
		Kind:   result.Kind,
		Signal: result.Signal,
	}

	if result.Kind == execution.Timeout {
		tr.CrashType = CrashTypeTimeout
		tr.Severity = SeverityLow
		tr.Description = "execution exceeded its time budget"
		tr.Bucket = "timeout"
		return tr
	}

	info, ok := signalTable[result.Signal]
	if !ok {
		info = signalInfo{CrashTypeUnknownSignal, SeverityMedium, "terminated by " + result.Signal.String()}
	}
	tr.CrashType = info.crashType
	tr.Severity = info.severity
	tr.Description = info.description
	tr.Bucket = fmt.Sprintf("crash-%d", int(result.Signal))
	return tr
}

// String returns a one-line summary
func (t *TriageResult) String() string {
	return fmt.Sprintf("%s [%s] input=%d: %s", t.CrashType, t.Severity, t.Input, t.Description)
}
