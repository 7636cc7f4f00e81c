/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: session.go
Description: Session assembly. Builds the real coverage channel, harness, stores and
progress log for a configuration, runs the engine, writes the report and summary, and
always releases everything through the engine's cleanup path.
*/

package core

import (
	"context"
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/analysis"
	"github.com/kleascm/akaylee-greybox/pkg/corpus"
	"github.com/kleascm/akaylee-greybox/pkg/coverage"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/kleascm/akaylee-greybox/pkg/reporting"
	"github.com/kleascm/akaylee-greybox/pkg/shm"
	"github.com/kleascm/akaylee-greybox/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// SummaryDir is the subdirectory of the output directory holding JSON session summaries
const SummaryDir = "summaries"

type sessionOptions struct {
	fs        afero.Fs
	reporters []interfaces.Reporter
	cleanup   []func() error
	onStart   func(*Engine)
}

// SessionOption customizes RunSession
type SessionOption func(*sessionOptions)

// WithReporters adds reporters next to the logging reporter
func WithReporters(reporters ...interfaces.Reporter) SessionOption {
	return func(o *sessionOptions) {
		o.reporters = append(o.reporters, reporters...)
	}
}

// WithCleanup registers functions run when the session ends
func WithCleanup(fns ...func() error) SessionOption {
	return func(o *sessionOptions) {
		o.cleanup = append(o.cleanup, fns...)
	}
}

// WithFs replaces the filesystem used for the corpus, findings and logs
func WithFs(fs afero.Fs) SessionOption {
	return func(o *sessionOptions) {
		o.fs = fs
	}
}

// OnStart is called with the engine right before the loop starts
func OnStart(fn func(*Engine)) SessionOption {
	return func(o *sessionOptions) {
		o.onStart = fn
	}
}

// RunSession runs one complete fuzzing session. Failure to set up the coverage
// channel or the output directories is fatal; everything after that is best effort.
func RunSession(ctx context.Context, config *SessionConfig, logger *logrus.Logger, opts ...SessionOption) (*SessionStats, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := &sessionOptions{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(o)
	}

	// Cleanup registered before the engine exists must still run on early failure
	pending := append([]func() error(nil), o.cleanup...)
	release := func(err error) error {
		for _, fn := range pending {
			err = multierr.Append(err, fn())
		}
		return err
	}

	channel, err := shm.Setup(logger)
	if err != nil {
		return nil, release(fmt.Errorf("failed to set up coverage channel: %w", err))
	}
	pending = append(pending, channel.Destroy)

	harness := execution.NewHarness(channel, execution.Config{
		ReservedExitCodes: config.ReservedExitCodes,
		KillSignal:        syscall.SIGKILL,
	}, logger)
	pending = append([]func() error{harness.Cleanup}, pending...)

	rng := NewSessionRand(config.Seed)

	findings, err := analysis.NewFindingStore(o.fs, config.OutputDir, logger)
	if err != nil {
		return nil, release(err)
	}

	var store *corpus.Store
	if config.Mode == interfaces.ModeGreybox {
		store = corpus.NewStore(o.fs, rng, logger)
		if err := store.Initialize(config.CorpusDir); err != nil {
			return nil, release(err)
		}
	}

	progress, err := OpenProgressLog(o.fs, config.ProgressLog)
	if err != nil {
		return nil, release(err)
	}

	history := reporting.NewHistoryRecorder()
	reporters := append([]interfaces.Reporter{NewLoggerReporter(logger, config.Timeout), history}, o.reporters...)

	engine, err := NewEngine(config, Dependencies{
		Executor:  harness,
		Coverage:  channel,
		Corpus:    store,
		Findings:  findings,
		Progress:  progress,
		Reporters: reporters,
		Rand:      rng,
		Logger:    logger,
		Cleanup:   pending,
	})
	if err != nil {
		return nil, release(multierr.Append(err, progress.Close()))
	}

	if o.onStart != nil {
		o.onStart(engine)
	}
	stats, runErr := engine.Run(ctx)

	if config.ReportPath != "" {
		data := BuildReportData(config, stats, engine.GlobalCoverage(), store, findings, history.History())
		if err := reporting.NewDashboardGenerator(o.fs, logger).GenerateReport(config.ReportPath, data); err != nil {
			logger.WithError(err).Warn("Failed to write session report")
		}
	}
	if path, err := utils.WriteSummary(o.fs, filepath.Join(config.OutputDir, SummaryDir),
		string(config.Mode), stats.SessionID, stats.StartTime, stats); err != nil {
		logger.WithError(err).Warn("Failed to write session summary")
	} else {
		logger.WithField("path", path).Debug("Session summary written")
	}

	// Release failures are not fatal to a finished session
	if err := engine.Close(); err != nil {
		logger.WithError(err).Warn("Session cleanup reported errors")
	}
	return stats, runErr
}

// BuildReportData gathers the final state of a session for the HTML report
func BuildReportData(config *SessionConfig, stats *SessionStats, global *coverage.Map,
	store *corpus.Store, findings *analysis.FindingStore, history []interfaces.Progress) *reporting.ReportData {
	data := &reporting.ReportData{
		GeneratedAt:   time.Now(),
		SessionID:     stats.SessionID,
		Target:        config.TargetPath,
		Mode:          config.Mode,
		InputRange:    fmt.Sprintf("[%d, %d]", config.MinInput, config.MaxInput),
		Duration:      stats.Duration.Round(time.Millisecond),
		Iterations:    stats.Iterations,
		Executions:    stats.Executions,
		ExecsPerSec:   stats.ExecutionsPerSecond(),
		Crashes:       stats.Crashes,
		Timeouts:      stats.Timeouts,
		CoverageEdges: coverage.CountCovered(global),
		Density:       coverage.Density(global),
		Interrupted:   stats.Interrupted,
		History:       history,
	}
	if store != nil {
		data.Corpus = reporting.CorpusRows(store.Entries())
	}
	if findings != nil {
		data.Findings = reporting.FindingRows(findings.Findings())
		data.Buckets = findings.Buckets()
	}
	return data
}
