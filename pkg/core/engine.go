/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine.go
Description: Fuzzing orchestrator. Drives one session in random or greybox mode: picks
candidate inputs from the corpus or the evolutionary population, executes them, merges
coverage into the global map, persists findings, records progress, minimizes a stagnant
corpus, and releases every resource through one idempotent cleanup path.
*/

package core

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-greybox/pkg/analysis"
	"github.com/kleascm/akaylee-greybox/pkg/corpus"
	"github.com/kleascm/akaylee-greybox/pkg/coverage"
	"github.com/kleascm/akaylee-greybox/pkg/evolution"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/kleascm/akaylee-greybox/pkg/strategies"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Executor runs the target once for one input
type Executor interface {
	Execute(ctx context.Context, targetPath string, input int32, timeout time.Duration) *execution.Result
}

// Dependencies are the collaborators an Engine drives
type Dependencies struct {
	Executor  Executor
	Coverage  coverage.Collector
	Corpus    *corpus.Store
	Findings  *analysis.FindingStore
	Progress  *ProgressLog
	Reporters []interfaces.Reporter
	Rand      *rand.Rand
	Logger    *logrus.Logger
	// Cleanup runs once when the engine closes, in order
	Cleanup []func() error
}

// Engine is the explicit context of one fuzzing session
type Engine struct {
	config *SessionConfig
	deps   Dependencies
	logger *logrus.Logger
	rng    *rand.Rand

	scheduler Scheduler
	evolution *evolution.Engine
	global    *coverage.Map
	stats     *SessionStats

	population []evolution.Individual
	spare      []evolution.Individual

	lastCorpusUpdate int

	closeOnce sync.Once
	closeErr  error
}

// NewEngine validates the configuration and wires the session
func NewEngine(config *SessionConfig, deps Dependencies) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("%w: executor not set", ErrInvalidConfig)
	}
	if deps.Findings == nil {
		return nil, fmt.Errorf("%w: findings store not set", ErrInvalidConfig)
	}
	if config.Mode == interfaces.ModeGreybox && deps.Corpus == nil {
		return nil, fmt.Errorf("%w: greybox mode needs a corpus", ErrInvalidConfig)
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Rand == nil {
		deps.Rand = NewSessionRand(config.Seed)
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	e := &Engine{
		config: config,
		deps:   deps,
		logger: deps.Logger,
		rng:    deps.Rand,
		global: new(coverage.Map),
		stats: &SessionStats{
			SessionID: sessionID,
			Mode:      config.Mode,
			StartTime: time.Now(),
		},
	}
	e.scheduler = NewCoinFlipScheduler(e.rng, config.CorpusProbability, config.HavocProbability)

	if config.Mode == interfaces.ModeGreybox {
		evo, err := evolution.NewEngine(config.Evolution, e.rng)
		if err != nil {
			return nil, fmt.Errorf("failed to create evolution engine: %w", err)
		}
		e.evolution = evo
	}
	return e, nil
}

// NewSessionRand returns the session generator. A zero seed mixes the clock with the pid.
func NewSessionRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano() ^ int64(os.Getpid())
	}
	return rand.New(rand.NewSource(seed))
}

// Stats returns the live statistics
func (e *Engine) Stats() *SessionStats {
	return e.stats
}

// GlobalCoverage returns the session-wide coverage map
func (e *Engine) GlobalCoverage() *coverage.Map {
	return e.global
}

// SetScheduler replaces the candidate source scheduler
func (e *Engine) SetScheduler(s Scheduler) {
	e.scheduler = s
}

// Run executes the session until the iteration budget is spent or ctx is cancelled.
// Cancellation is not an error; the returned stats are marked Interrupted.
func (e *Engine) Run(ctx context.Context) (*SessionStats, error) {
	e.logger.WithFields(logrus.Fields{
		"session_id": e.stats.SessionID,
		"mode":       e.config.Mode,
		"target":     e.config.TargetPath,
		"iterations": e.config.Iterations,
		"range":      fmt.Sprintf("[%d, %d]", e.config.MinInput, e.config.MaxInput),
	}).Info("Fuzzing session started")

	var err error
	switch e.config.Mode {
	case interfaces.ModeRandom:
		err = e.runRandom(ctx)
	default:
		err = e.runGreybox(ctx)
	}

	final := e.stats.Snapshot()
	final.Duration = time.Since(e.stats.StartTime)
	final.Interrupted = ctx.Err() != nil
	if e.deps.Corpus != nil {
		final.AverageFitness = e.deps.Corpus.AverageFitness()
	}

	e.logger.WithFields(logrus.Fields{
		"iterations":  final.Iterations,
		"executions":  final.Executions,
		"crashes":     final.Crashes,
		"timeouts":    final.Timeouts,
		"coverage":    coverage.Summary(e.global),
		"corpus_size": final.CorpusSize,
		"interrupted": final.Interrupted,
		"duration":    final.Duration,
	}).Info("Fuzzing session finished")
	return &final, err
}

// runRandom draws every input uniformly from the range
func (e *Engine) runRandom(ctx context.Context) error {
	n := e.config.Iterations
	for iter := 1; iter <= n; iter++ {
		if ctx.Err() != nil {
			return nil
		}
		e.stats.incIterations()

		input := evolution.RandomInRange(e.rng, e.config.MinInput, e.config.MaxInput)
		res, live := e.execute(ctx, iter, input)
		if res.Completed() {
			e.mergeGlobal(input, live)
		}
		e.handleOutcome(iter, res, live, false)

		if iter%e.config.ProgressInterval == 0 || iter == n {
			if err := e.recordProgress(iter); err != nil {
				return err
			}
		}
	}
	return nil
}

// runGreybox seeds a population, then alternates between corpus and population candidates
func (e *Engine) runGreybox(ctx context.Context) error {
	if e.config.Resume {
		if _, err := e.deps.Corpus.Load(e.deps.Corpus.Dir()); err != nil {
			e.logger.WithError(err).Warn("Failed to load existing corpus")
		}
	}

	size := e.config.Evolution.PopulationSize
	e.population = evolution.InitializePopulation(size)
	e.spare = evolution.InitializePopulation(size)
	e.evolution.SeedUniform(e.population, e.config.MinInput, e.config.MaxInput)

	for i := range e.population {
		if ctx.Err() != nil {
			return nil
		}
		e.evaluateIndividual(ctx, 0, &e.population[i])
	}
	e.syncCorpusSize()
	if err := e.recordProgress(0); err != nil {
		return err
	}

	n := e.config.Iterations
	for iter := 1; iter <= n; iter++ {
		if ctx.Err() != nil {
			return nil
		}
		e.stats.incIterations()
		corpusBefore := e.deps.Corpus.Size()
		findingsBefore := e.findingCount()

		input := e.nextCandidate(ctx, iter)
		if ctx.Err() != nil {
			return nil
		}
		input = strategies.Clamp(input, e.config.MinInput, e.config.MaxInput)

		res, live := e.execute(ctx, iter, input)
		if res.Completed() {
			if coverage.HasNewCoverage(live, e.global) {
				e.saveNovel(iter, input, live)
			}
			e.mergeGlobal(input, live)
		}
		e.handleOutcome(iter, res, live, true)
		e.syncCorpusSize()

		grew := e.deps.Corpus.Size() > corpusBefore || e.findingCount() > findingsBefore
		if iter%e.config.ProgressInterval == 0 || iter == n || grew {
			if err := e.recordProgress(iter); err != nil {
				return err
			}
		}

		e.maybeMinimize(iter)
	}
	return nil
}

// nextCandidate picks the input for this iteration
func (e *Engine) nextCandidate(ctx context.Context, iter int) int32 {
	if e.scheduler.Next(e.deps.Corpus.Size()) == SourceCorpus {
		if entry := e.selectEntry(ctx, iter); entry != nil {
			if e.scheduler.CorpusOp(e.deps.Corpus.Size()) == OpCrossover {
				if other := e.deps.Corpus.SelectDistinct(entry.Input); other != nil {
					return strategies.Crossover(e.rng, entry.Input, other.Input)
				}
			}
			return strategies.NewHavocMutator().Mutate(e.rng, entry.Input)
		}
		e.logger.WithField("iteration", iter).Warn("Corpus selection returned nothing, using population")
	}

	e.evolution.GenerateNextGeneration(e.population, e.spare, e.config.MinInput, e.config.MaxInput)
	e.stats.incGenerations()
	for i := range e.spare {
		if ctx.Err() != nil {
			break
		}
		e.evaluateIndividual(ctx, iter, &e.spare[i])
	}
	e.population, e.spare = evolution.Replace(e.population, e.spare)
	return e.population[e.rng.Intn(len(e.population))].Input
}

// selectEntry returns a random corpus entry, re-executing it first if it was loaded from disk
func (e *Engine) selectEntry(ctx context.Context, iter int) *corpus.Entry {
	entry := e.deps.Corpus.Select()
	if entry == nil || !entry.NeedsEvaluation {
		return entry
	}

	res, live := e.execute(ctx, iter, entry.Input)
	if res.Completed() {
		e.deps.Corpus.MarkEvaluated(entry.Input, live, coverage.Fitness(live, e.global))
		e.mergeGlobal(entry.Input, live)
	}
	e.handleOutcome(iter, res, live, true)
	return e.deps.Corpus.Get(entry.Input)
}

// evaluateIndividual executes one population member and scores it against the global map
func (e *Engine) evaluateIndividual(ctx context.Context, iter int, ind *evolution.Individual) {
	res, live := e.execute(ctx, iter, ind.Input)
	if !res.Completed() {
		ind.Fitness = 0
		coverage.Reset(ind.Coverage)
		e.handleOutcome(iter, res, live, true)
		return
	}

	ind.Fitness = coverage.Fitness(live, e.global)
	*ind.Coverage = *coverage.Clone(live)
	if coverage.HasNewCoverage(live, e.global) {
		e.saveNovel(iter, ind.Input, live)
	}
	e.mergeGlobal(ind.Input, live)
	e.handleOutcome(iter, res, live, true)
}

// execute runs the target and returns the result with the live coverage map.
// The map is nil for internal errors.
func (e *Engine) execute(ctx context.Context, iter int, input int32) (*execution.Result, *coverage.Map) {
	res := e.deps.Executor.Execute(ctx, e.config.TargetPath, input, e.config.Timeout)
	e.stats.incExecutions()
	for _, r := range e.deps.Reporters {
		r.OnExecution(iter, res)
	}

	if !res.Completed() {
		if ctx.Err() == nil {
			e.stats.incInternalErrors()
			e.logger.WithFields(logrus.Fields{
				"input":     input,
				"iteration": iter,
				"error":     res.Err,
			}).Warn("Execution failed inside the harness")
		}
		return res, nil
	}
	if e.deps.Coverage == nil {
		return res, nil
	}
	return res, e.deps.Coverage.Map()
}

// saveNovel stores an input that reached new edges
func (e *Engine) saveNovel(iter int, input int32, live *coverage.Map) {
	fitness := coverage.Fitness(live, e.global)
	outcome, err := e.deps.Corpus.Save(input, live, fitness, false)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to save corpus entry")
	}
	if outcome != corpus.Unchanged {
		e.lastCorpusUpdate = iter
	}
}

// mergeGlobal folds a completed execution's coverage into the global map
func (e *Engine) mergeGlobal(input int32, live *coverage.Map) {
	added := coverage.MergeInto(e.global, live)
	if added == 0 {
		return
	}
	total := coverage.CountCovered(e.global)
	e.stats.incNewCoverage()
	e.stats.setCoverage(total)
	for _, r := range e.deps.Reporters {
		r.OnNewCoverage(input, added, total)
	}
}

// handleOutcome records findings and non-zero exits
func (e *Engine) handleOutcome(iter int, res *execution.Result, live *coverage.Map, keep bool) {
	switch res.Kind {
	case execution.Crash:
		e.stats.incCrashes()
		e.recordFinding(iter, res, live, keep)
	case execution.Timeout:
		e.stats.incTimeouts()
		e.recordFinding(iter, res, live, keep)
	case execution.NormalExit:
		if res.ExitCode != 0 {
			e.handleNonZeroExit(iter, res, live, keep)
		}
	}
}

// handleNonZeroExit applies the configured policy
func (e *Engine) handleNonZeroExit(iter int, res *execution.Result, live *coverage.Map, keep bool) {
	e.stats.incNonZeroExits()
	fields := logrus.Fields{
		"input":     res.Input,
		"iteration": iter,
		"exit_code": res.ExitCode,
	}

	switch e.config.NonZeroExitPolicy {
	case NonZeroLog:
		e.logger.WithFields(fields).Info("Target exited with non-zero status")
	case NonZeroAsTimeout:
		e.stats.incTimeouts()
		asTimeout := *res
		asTimeout.Kind = execution.Timeout
		e.recordFinding(iter, &asTimeout, live, keep)
	default:
		e.logger.WithFields(fields).Debug("Target exited with non-zero status")
	}
}

// recordFinding persists a crash or timeout and keeps the input as an interesting corpus entry
func (e *Engine) recordFinding(iter int, res *execution.Result, live *coverage.Map, keep bool) {
	finding, err := e.deps.Findings.Save(res, iter)
	if err != nil {
		e.logger.WithError(err).Error("Failed to persist finding")
	} else {
		for _, r := range e.deps.Reporters {
			r.OnFinding(finding)
		}
	}

	if !keep || e.deps.Corpus == nil {
		return
	}
	outcome, err := e.deps.Corpus.Save(res.Input, live, 0, true)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to save finding to corpus")
	}
	if outcome == corpus.Unchanged {
		e.deps.Corpus.MarkInteresting(res.Input)
	}
}

// maybeMinimize shrinks a large corpus that has stopped growing
func (e *Engine) maybeMinimize(iter int) {
	if e.deps.Corpus.Size() <= e.config.MinimizeThreshold {
		return
	}
	if iter-e.lastCorpusUpdate <= e.config.StagnationWindow {
		return
	}
	e.logger.WithFields(logrus.Fields{
		"iteration":   iter,
		"corpus_size": e.deps.Corpus.Size(),
	}).Info("Minimizing stagnant corpus")
	e.deps.Corpus.Minimize()
	e.stats.incMinimizations()
	e.syncCorpusSize()
	e.lastCorpusUpdate = iter
}

func (e *Engine) findingCount() int64 {
	s := e.stats.Snapshot()
	return s.Crashes + s.Timeouts
}

func (e *Engine) syncCorpusSize() {
	if e.deps.Corpus != nil {
		e.stats.setCorpusSize(e.deps.Corpus.Size())
	}
}

// Progress returns the current progress view
func (e *Engine) Progress(iter int) interfaces.Progress {
	s := e.stats.Snapshot()
	p := interfaces.Progress{
		Iteration:  iter,
		Coverage:   coverage.CountCovered(e.global),
		Mode:       e.config.Mode,
		Crashes:    s.Crashes,
		Timeouts:   s.Timeouts,
		Executions: s.Executions,
		Elapsed:    time.Since(s.StartTime),
	}
	if e.config.Mode == interfaces.ModeGreybox && e.deps.Corpus != nil {
		p.CorpusSize = e.deps.Corpus.Size()
	}
	return p
}

// recordProgress appends a progress row and notifies reporters
func (e *Engine) recordProgress(iter int) error {
	p := e.Progress(iter)
	e.stats.setCoverage(p.Coverage)
	if e.deps.Progress != nil {
		if err := e.deps.Progress.Record(p); err != nil {
			return fmt.Errorf("failed to record progress: %w", err)
		}
	}
	for _, r := range e.deps.Reporters {
		r.OnProgress(p)
	}
	return nil
}

// Close releases every session resource. It is safe to call more than once
// and from the interrupt path.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		var err error
		if e.deps.Progress != nil {
			err = multierr.Append(err, e.deps.Progress.Close())
		}
		if e.deps.Corpus != nil {
			e.deps.Corpus.Teardown()
		}
		for _, fn := range e.deps.Cleanup {
			err = multierr.Append(err, fn())
		}
		e.closeErr = err
	})
	return e.closeErr
}
