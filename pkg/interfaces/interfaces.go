/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: interfaces.go
Description: Shared interfaces for the greybox fuzzer. Defines the event contract between
the orchestrator and its listeners (logging, metrics, reports) so those packages do not
import the orchestrator.
*/

package interfaces

import (
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/analysis"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
)

// Mode is the fuzzing strategy of a session
type Mode string

const (
	// ModeRandom draws every input uniformly from the range
	ModeRandom Mode = "random"
	// ModeGreybox evolves inputs guided by coverage
	ModeGreybox Mode = "greybox"
)

// Progress is a point-in-time view of a session
type Progress struct {
	Iteration  int
	Coverage   int
	Mode       Mode
	CorpusSize int
	Crashes    int64
	Timeouts   int64
	Executions int64
	Elapsed    time.Duration
}

// Reporter receives session events. Calls happen on the fuzzing goroutine
// and must not block for long.
type Reporter interface {
	// OnExecution is called after every execution of the target
	OnExecution(iteration int, result *execution.Result)
	// OnNewCoverage is called when an input reaches edges never seen before
	OnNewCoverage(input int32, newEdges, totalEdges int)
	// OnFinding is called after a crash or timeout is persisted
	OnFinding(finding *analysis.Finding)
	// OnProgress is called whenever a progress row is recorded
	OnProgress(p Progress)
}
