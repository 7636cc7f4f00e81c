/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: types.go
Description: Core types for the greybox fuzzing engine. Defines the session configuration
with its defaults and validation, the policy for non-zero target exits, and the session
statistics updated atomically while the fuzzing loop runs.
*/

package core

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/evolution"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
)

// ErrInvalidConfig is wrapped by every configuration validation error
var ErrInvalidConfig = errors.New("invalid session config")

// NonZeroExitPolicy decides what happens to inputs that make the target exit with a non-zero code
type NonZeroExitPolicy string

const (
	// NonZeroIgnore counts the exit and logs it at debug level
	NonZeroIgnore NonZeroExitPolicy = "ignore"
	// NonZeroLog counts the exit and logs it at info level
	NonZeroLog NonZeroExitPolicy = "log"
	// NonZeroAsTimeout records the input as a timeout finding
	NonZeroAsTimeout NonZeroExitPolicy = "timeout"
)

// SessionConfig contains every parameter of one fuzzing session
type SessionConfig struct {
	SessionID string `json:"session_id" mapstructure:"session_id"` // Generated when empty

	// Target configuration
	TargetPath string          `json:"target_path" mapstructure:"target_path"` // Instrumented binary
	Mode       interfaces.Mode `json:"mode" mapstructure:"mode"`
	Iterations int             `json:"iterations" mapstructure:"iterations"`
	Timeout    time.Duration   `json:"timeout" mapstructure:"timeout"` // Per execution, rounded up to whole seconds
	MinInput   int32           `json:"min_input" mapstructure:"min_input"`
	MaxInput   int32           `json:"max_input" mapstructure:"max_input"`
	Seed       int64           `json:"seed" mapstructure:"seed"` // 0 derives a seed from time and pid

	// Output configuration
	CorpusDir   string `json:"corpus_dir" mapstructure:"corpus_dir"`
	OutputDir   string `json:"output_dir" mapstructure:"output_dir"` // Findings and progress log
	ProgressLog string `json:"progress_log" mapstructure:"progress_log"`
	ReportPath  string `json:"report_path" mapstructure:"report_path"` // Optional HTML report
	Resume      bool   `json:"resume" mapstructure:"resume"`           // Load an existing corpus

	// Scheduling configuration
	ProgressInterval  int     `json:"progress_interval" mapstructure:"progress_interval"`
	MinimizeThreshold int     `json:"minimize_threshold" mapstructure:"minimize_threshold"`
	StagnationWindow  int     `json:"stagnation_window" mapstructure:"stagnation_window"`
	CorpusProbability float64 `json:"corpus_probability" mapstructure:"corpus_probability"`
	HavocProbability  float64 `json:"havoc_probability" mapstructure:"havoc_probability"`

	Evolution         evolution.Config  `json:"evolution" mapstructure:"evolution"`
	NonZeroExitPolicy NonZeroExitPolicy `json:"nonzero_exit_policy" mapstructure:"nonzero_exit_policy"`
	ReservedExitCodes []int             `json:"reserved_exit_codes" mapstructure:"reserved_exit_codes"`
}

// DefaultSessionConfig returns a greybox session over the full 32-bit range
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Mode:              interfaces.ModeGreybox,
		Iterations:        10000,
		Timeout:           time.Second,
		MinInput:          math.MinInt32,
		MaxInput:          math.MaxInt32,
		CorpusDir:         "corpus",
		OutputDir:         "findings",
		ProgressLog:       "coverage_progress.csv",
		ProgressInterval:  100,
		MinimizeThreshold: 50,
		StagnationWindow:  2000,
		CorpusProbability: 0.5,
		HavocProbability:  0.7,
		Evolution:         evolution.DefaultConfig(),
		NonZeroExitPolicy: NonZeroIgnore,
		ReservedExitCodes: []int{126, 127},
	}
}

// Validate checks the configuration
func (c *SessionConfig) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.TargetPath == "" {
		return fail("target path is required")
	}
	switch c.Mode {
	case interfaces.ModeRandom, interfaces.ModeGreybox:
	default:
		return fail("unknown mode %q", c.Mode)
	}
	if c.Iterations < 0 {
		return fail("iterations must not be negative")
	}
	if c.MinInput > c.MaxInput {
		return fail("min input %d is greater than max input %d", c.MinInput, c.MaxInput)
	}
	if c.ProgressInterval <= 0 {
		return fail("progress interval must be positive")
	}
	if c.CorpusProbability < 0 || c.CorpusProbability > 1 || c.HavocProbability < 0 || c.HavocProbability > 1 {
		return fail("probabilities must be in [0,1]")
	}
	switch c.NonZeroExitPolicy {
	case NonZeroIgnore, NonZeroLog, NonZeroAsTimeout:
	default:
		return fail("unknown non-zero exit policy %q", c.NonZeroExitPolicy)
	}
	if c.Mode == interfaces.ModeGreybox {
		if err := c.Evolution.Validate(); err != nil {
			return fail("%v", err)
		}
	}
	return nil
}

// SessionStats tracks one session. Counters are updated atomically so a
// reporting goroutine can read them while the loop runs.
type SessionStats struct {
	SessionID string          `json:"session_id"`
	Mode      interfaces.Mode `json:"mode"`
	StartTime time.Time       `json:"start_time"`
	Duration  time.Duration   `json:"duration"`

	Iterations     int64 `json:"iterations"`
	Executions     int64 `json:"executions"`
	Crashes        int64 `json:"crashes"`
	Timeouts       int64 `json:"timeouts"`
	InternalErrors int64 `json:"internal_errors"`
	NonZeroExits   int64 `json:"nonzero_exits"`
	NewCoverage    int64 `json:"new_coverage"`
	Generations    int64 `json:"generations"`
	Minimizations  int64 `json:"minimizations"`
	CoverageEdges  int64 `json:"coverage_edges"`
	CorpusSize     int64 `json:"corpus_size"`

	AverageFitness float64 `json:"average_fitness"`
	Interrupted    bool    `json:"interrupted"`
}

func (s *SessionStats) incIterations()     { atomic.AddInt64(&s.Iterations, 1) }
func (s *SessionStats) incExecutions()     { atomic.AddInt64(&s.Executions, 1) }
func (s *SessionStats) incCrashes()        { atomic.AddInt64(&s.Crashes, 1) }
func (s *SessionStats) incTimeouts()       { atomic.AddInt64(&s.Timeouts, 1) }
func (s *SessionStats) incInternalErrors() { atomic.AddInt64(&s.InternalErrors, 1) }
func (s *SessionStats) incNonZeroExits()   { atomic.AddInt64(&s.NonZeroExits, 1) }
func (s *SessionStats) incNewCoverage()    { atomic.AddInt64(&s.NewCoverage, 1) }
func (s *SessionStats) incGenerations()    { atomic.AddInt64(&s.Generations, 1) }
func (s *SessionStats) incMinimizations()  { atomic.AddInt64(&s.Minimizations, 1) }

func (s *SessionStats) setCoverage(edges int)  { atomic.StoreInt64(&s.CoverageEdges, int64(edges)) }
func (s *SessionStats) setCorpusSize(size int) { atomic.StoreInt64(&s.CorpusSize, int64(size)) }

// Snapshot returns a consistent copy of the counters
func (s *SessionStats) Snapshot() SessionStats {
	return SessionStats{
		SessionID:      s.SessionID,
		Mode:           s.Mode,
		StartTime:      s.StartTime,
		Duration:       s.Duration,
		Iterations:     atomic.LoadInt64(&s.Iterations),
		Executions:     atomic.LoadInt64(&s.Executions),
		Crashes:        atomic.LoadInt64(&s.Crashes),
		Timeouts:       atomic.LoadInt64(&s.Timeouts),
		InternalErrors: atomic.LoadInt64(&s.InternalErrors),
		NonZeroExits:   atomic.LoadInt64(&s.NonZeroExits),
		NewCoverage:    atomic.LoadInt64(&s.NewCoverage),
		Generations:    atomic.LoadInt64(&s.Generations),
		Minimizations:  atomic.LoadInt64(&s.Minimizations),
		CoverageEdges:  atomic.LoadInt64(&s.CoverageEdges),
		CorpusSize:     atomic.LoadInt64(&s.CorpusSize),
		AverageFitness: s.AverageFitness,
		Interrupted:    s.Interrupted,
	}
}

// ExecutionsPerSecond returns the average execution rate since start
func (s *SessionStats) ExecutionsPerSecond() float64 {
	elapsed := s.Duration
	if elapsed == 0 {
		elapsed = time.Since(s.StartTime)
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&s.Executions)) / elapsed.Seconds()
}
