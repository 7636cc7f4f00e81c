/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reporter.go
Description: Logging reporter for session events. Crashes and timeouts are printed the
moment they are found, novelty and progress at info level.
*/

package core

import (
	"sync/atomic"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/analysis"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/kleascm/akaylee-greybox/pkg/logging"
	"github.com/sirupsen/logrus"
)

// LoggerReporter logs session events
type LoggerReporter struct {
	logger    *logging.Logger
	timeout   time.Duration
	iteration atomic.Int64 // iteration of the last execution, attached to novelty lines
}

// NewLoggerReporter creates a new LoggerReporter. timeout is reported with every timeout finding.
func NewLoggerReporter(logger *logrus.Logger, timeout time.Duration) *LoggerReporter {
	return &LoggerReporter{logger: logging.Wrap(logger), timeout: timeout}
}

// OnExecution logs every execution at debug level
func (r *LoggerReporter) OnExecution(iteration int, result *execution.Result) {
	r.iteration.Store(int64(iteration))
	log := r.logger.GetLogger()
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	log.WithFields(logrus.Fields{
		"iteration": iteration,
		"input":     result.Input,
		"outcome":   result.String(),
		"duration":  result.Duration,
	}).Debug("Target executed")
}

// OnNewCoverage logs novelty
func (r *LoggerReporter) OnNewCoverage(input int32, newEdges, totalEdges int) {
	r.logger.LogNewCoverage(input, int(r.iteration.Load()), newEdges, totalEdges)
}

// OnFinding prints a crash or timeout with its input, iteration and signal
func (r *LoggerReporter) OnFinding(finding *analysis.Finding) {
	if finding == nil || finding.Triage == nil {
		return
	}
	fields := logrus.Fields{"path": finding.Path}
	if finding.Triage.Kind == execution.Timeout {
		r.logger.LogTimeout(finding.Triage.Input, finding.Iteration, r.timeout, fields)
		return
	}
	fields["type"] = finding.Triage.CrashType
	fields["severity"] = finding.Triage.Severity.String()
	r.logger.LogCrash(finding.Triage.Input, finding.Iteration, finding.Triage.Signal, fields)
}

// OnProgress logs a progress row
func (r *LoggerReporter) OnProgress(p interfaces.Progress) {
	r.logger.GetLogger().WithFields(logrus.Fields{
		"iteration":   p.Iteration,
		"coverage":    p.Coverage,
		"mode":        p.Mode,
		"corpus_size": p.CorpusSize,
		"crashes":     p.Crashes,
		"timeouts":    p.Timeouts,
	}).Info("Progress")
}

var _ interfaces.Reporter = (*LoggerReporter)(nil)
