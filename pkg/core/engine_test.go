/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine_test.go
Description: Tests for the fuzzing orchestrator. Drives both modes against a scripted
in-memory target so crashes, timeouts, novelty, progress rows, re-evaluation of loaded
entries, minimization and cleanup can be checked deterministically.
*/

package core

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/analysis"
	"github.com/kleascm/akaylee-greybox/pkg/corpus"
	"github.com/kleascm/akaylee-greybox/pkg/coverage"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCollector is an in-memory coverage map
type fakeCollector struct {
	m coverage.Map
}

func (c *fakeCollector) Reset() { coverage.Reset(&c.m) }
func (c *fakeCollector) Map() *coverage.Map { return &c.m }

// fakeTarget executes inputs by consulting a behaviour function
type fakeTarget struct {
	cov    *fakeCollector
	behave func(input int32) (execution.Result, []int)
	calls  []int32
}

func (f *fakeTarget) Execute(ctx context.Context, _ string, input int32, _ time.Duration) *execution.Result {
	f.calls = append(f.calls, input)
	f.cov.Reset()
	if err := ctx.Err(); err != nil {
		return &execution.Result{Kind: execution.InternalError, Input: input, Err: err}
	}
	res, edges := f.behave(input)
	res.Input = input
	for _, e := range edges {
		f.cov.m[e]++
	}
	return &res
}

// recordingReporter remembers reporter callbacks
type recordingReporter struct {
	executions int
	novelty    int
	findings   []*analysis.Finding
	progress   []interfaces.Progress
}

func (r *recordingReporter) OnExecution(int, *execution.Result) { r.executions++ }
func (r *recordingReporter) OnNewCoverage(int32, int, int) { r.novelty++ }
func (r *recordingReporter) OnFinding(f *analysis.Finding) { r.findings = append(r.findings, f) }
func (r *recordingReporter) OnProgress(p interfaces.Progress) { r.progress = append(r.progress, p) }

type harnessFixture struct {
	fs       afero.Fs
	target   *fakeTarget
	corpus   *corpus.Store
	findings *analysis.FindingStore
	progress *ProgressLog
	reporter *recordingReporter
	config   *SessionConfig
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newFixture(t *testing.T, mode interfaces.Mode, behave func(int32) (execution.Result, []int)) *harnessFixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	logger := quietLogger()

	cfg := DefaultSessionConfig()
	cfg.TargetPath = "./target_fuzz"
	cfg.Mode = mode
	cfg.Iterations = 20
	cfg.MinInput = 0
	cfg.MaxInput = 20
	cfg.Seed = 11
	cfg.ProgressLog = "coverage_progress.csv"
	cfg.Evolution.PopulationSize = 4
	cfg.Evolution.TournamentSize = 2

	findings, err := analysis.NewFindingStore(fs, cfg.OutputDir, logger)
	require.NoError(t, err)
	store := corpus.NewStore(fs, rand.New(rand.NewSource(5)), logger)
	require.NoError(t, store.Initialize(cfg.CorpusDir))
	progress, err := OpenProgressLog(fs, cfg.ProgressLog)
	require.NoError(t, err)

	return &harnessFixture{
		fs:       fs,
		target:   &fakeTarget{cov: &fakeCollector{}, behave: behave},
		corpus:   store,
		findings: findings,
		progress: progress,
		reporter: &recordingReporter{},
		config:   cfg,
	}
}

func (f *harnessFixture) engine(t *testing.T) *Engine {
	t.Helper()
	deps := Dependencies{
		Executor:  f.target,
		Coverage:  f.target.cov,
		Findings:  f.findings,
		Progress:  f.progress,
		Reporters: []interfaces.Reporter{f.reporter},
		Rand:      rand.New(rand.NewSource(f.config.Seed)),
		Logger:    quietLogger(),
	}
	if f.config.Mode == interfaces.ModeGreybox {
		deps.Corpus = f.corpus
	}
	e, err := NewEngine(f.config, deps)
	require.NoError(t, err)
	return e
}

func (f *harnessFixture) progressRows(t *testing.T) []string {
	t.Helper()
	raw, err := afero.ReadFile(f.fs, f.config.ProgressLog)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(raw)), "\n")
}

// oneEdgePerInput makes every input cover its own edge
func oneEdgePerInput(input int32) (execution.Result, []int) {
	return execution.Result{Kind: execution.NormalExit}, []int{int(input) + 1}
}

// TestNewEngineValidates tests that missing collaborators are rejected
func TestNewEngineValidates(t *testing.T) {
	f := newFixture(t, interfaces.ModeGreybox, oneEdgePerInput)

	_, err := NewEngine(f.config, Dependencies{Findings: f.findings, Corpus: f.corpus})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewEngine(f.config, Dependencies{Executor: f.target, Findings: f.findings})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	bad := *f.config
	bad.TargetPath = ""
	_, err = NewEngine(&bad, Dependencies{Executor: f.target, Findings: f.findings, Corpus: f.corpus})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

// TestRandomMode tests that random mode merges coverage and never touches the corpus
func TestRandomMode(t *testing.T) {
	f := newFixture(t, interfaces.ModeRandom, oneEdgePerInput)
	f.config.Iterations = 250
	e := f.engine(t)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	assert.Equal(t, int64(250), stats.Iterations)
	assert.Equal(t, int64(250), stats.Executions)
	assert.False(t, stats.Interrupted)
	assert.Equal(t, 0, f.corpus.Size())
	for _, in := range f.target.calls {
		assert.True(t, in >= 0 && in <= 20)
	}

	covered := coverage.CountCovered(e.GlobalCoverage())
	assert.LessOrEqual(t, covered, 21)
	assert.Greater(t, covered, 1)
	assert.Equal(t, covered, f.reporter.novelty)

	// Rows at 100, 200 and the final iteration
	rows := f.progressRows(t)
	require.Len(t, rows, 4)
	assert.Equal(t, "Iteration,Coverage,Mode,CorpusSize,Crashes,Timeouts", rows[0])
	assert.True(t, strings.HasPrefix(rows[1], "100,"))
	assert.True(t, strings.HasSuffix(rows[3], ",random,0,0,0"), rows[3])
}

// TestGreyboxMode tests seeding, the initial progress row and corpus growth
func TestGreyboxMode(t *testing.T) {
	f := newFixture(t, interfaces.ModeGreybox, oneEdgePerInput)
	f.config.Iterations = 60
	e := f.engine(t)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	// Seeding runs the whole population before the first iteration
	assert.GreaterOrEqual(t, stats.Executions, int64(4+60))
	assert.Equal(t, int64(60), stats.Iterations)
	assert.Greater(t, f.corpus.Size(), 0)
	assert.Equal(t, int64(f.corpus.Size()), stats.CorpusSize)

	// Every corpus entry holds exactly the edge its input reaches
	for _, entry := range f.corpus.Entries() {
		assert.Equal(t, byte(1), entry.Coverage[int(entry.Input)+1])
		assert.Equal(t, 1, coverage.CountCovered(entry.Coverage))
		assert.False(t, entry.Interesting)
	}
	assert.Equal(t, uint(coverage.CountCovered(e.GlobalCoverage())), f.corpus.Union().Count())

	rows := f.progressRows(t)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.True(t, strings.HasPrefix(rows[1], "0,"))
	assert.Contains(t, rows[1], ",greybox,")
	assert.True(t, strings.HasPrefix(rows[len(rows)-1], "60,"))
	require.NoError(t, e.Close())
}

// TestGreyboxCrashBecomesFinding tests that a crashing input is persisted and kept as interesting
func TestGreyboxCrashBecomesFinding(t *testing.T) {
	f := newFixture(t, interfaces.ModeGreybox, func(input int32) (execution.Result, []int) {
		return execution.Result{Kind: execution.Crash, Signal: syscall.SIGSEGV}, []int{7}
	})
	f.config.MinInput, f.config.MaxInput = 13, 13
	f.config.Iterations = 5
	e := f.engine(t)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, stats.Executions, stats.Crashes)
	assert.Equal(t, int64(0), stats.Timeouts)

	entry := f.corpus.Get(13)
	require.NotNil(t, entry)
	assert.True(t, entry.Interesting)
	assert.Equal(t, 1, f.corpus.Size())

	found := f.findings.Findings()
	require.Len(t, found, int(stats.Crashes))
	assert.Equal(t, analysis.CrashTypeSegfault, found[0].Triage.CrashType)
	assert.True(t, strings.HasPrefix(found[0].Path, filepath.Join(f.config.OutputDir, analysis.CrashDir)))
	assert.Len(t, f.reporter.findings, len(found))

	data, err := afero.ReadFile(f.fs, found[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "13\n", string(data))
}

// TestGreyboxCrashUpgradesExistingEntry tests that a crash on a known input marks it interesting
func TestGreyboxCrashUpgradesExistingEntry(t *testing.T) {
	f := newFixture(t, interfaces.ModeGreybox, func(input int32) (execution.Result, []int) {
		return execution.Result{Kind: execution.Timeout, Signal: syscall.SIGKILL}, nil
	})
	f.config.MinInput, f.config.MaxInput = 4, 4
	f.config.Iterations = 1
	_, err := f.corpus.Save(4, nil, 25, false)
	require.NoError(t, err)
	e := f.engine(t)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, stats.Executions, stats.Timeouts)
	entry := f.corpus.Get(4)
	require.NotNil(t, entry)
	assert.True(t, entry.Interesting)
	assert.Equal(t, 25.0, entry.Fitness)
}

// TestNonZeroExitPolicy tests the three policies for non-zero exits
func TestNonZeroExitPolicy(t *testing.T) {
	exit3 := func(int32) (execution.Result, []int) {
		return execution.Result{Kind: execution.NormalExit, ExitCode: 3}, []int{1}
	}

	for _, policy := range []NonZeroExitPolicy{NonZeroIgnore, NonZeroLog, NonZeroAsTimeout} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t, interfaces.ModeRandom, exit3)
			f.config.NonZeroExitPolicy = policy
			f.config.Iterations = 10
			e := f.engine(t)

			stats, err := e.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(10), stats.NonZeroExits)
			if policy == NonZeroAsTimeout {
				assert.Equal(t, int64(10), stats.Timeouts)
				assert.Len(t, f.findings.Findings(), 10)
			} else {
				assert.Equal(t, int64(0), stats.Timeouts)
				assert.Empty(t, f.findings.Findings())
			}
		})
	}
}

// TestInternalErrorsSkipCoverage tests that harness failures are counted but never merged
func TestInternalErrorsSkipCoverage(t *testing.T) {
	f := newFixture(t, interfaces.ModeRandom, func(int32) (execution.Result, []int) {
		return execution.Result{Kind: execution.InternalError, Err: execution.ErrChildSetup}, []int{1, 2, 3}
	})
	f.config.Iterations = 5
	e := f.engine(t)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.InternalErrors)
	assert.Equal(t, 0, coverage.CountCovered(e.GlobalCoverage()))
}

// TestCancelledRun tests that a cancelled context stops the loop without an error
func TestCancelledRun(t *testing.T) {
	f := newFixture(t, interfaces.ModeGreybox, oneEdgePerInput)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := f.engine(t)

	stats, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Interrupted)
	assert.Equal(t, int64(0), stats.Iterations)
	assert.Empty(t, f.target.calls)
}

// alwaysCorpus forces the corpus path with havoc
type alwaysCorpus struct{}

func (alwaysCorpus) Next(int) Source { return SourceCorpus }
func (alwaysCorpus) CorpusOp(int) CorpusOp { return OpHavoc }

// TestResumeReevaluatesLoadedEntries tests that entries loaded from disk are executed on first selection
func TestResumeReevaluatesLoadedEntries(t *testing.T) {
	// Only the persisted input reaches any code, so seeding adds nothing to the corpus
	f := newFixture(t, interfaces.ModeGreybox, func(input int32) (execution.Result, []int) {
		if input == 9 {
			return execution.Result{Kind: execution.NormalExit}, []int{10}
		}
		return execution.Result{Kind: execution.NormalExit}, nil
	})
	require.NoError(t, afero.WriteFile(f.fs, filepath.Join(f.config.CorpusDir, "input_9"), []byte("9\n"), 0o644))
	f.config.Resume = true
	f.config.Iterations = 1
	f.config.MinInput, f.config.MaxInput = 0, 0
	e := f.engine(t)
	e.SetScheduler(alwaysCorpus{})

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, f.target.calls, int32(9))
	entry := f.corpus.Get(9)
	require.NotNil(t, entry)
	assert.False(t, entry.NeedsEvaluation)
	assert.Equal(t, byte(1), entry.Coverage[10])
	assert.Equal(t, 1, f.corpus.Size())
	assert.Equal(t, 1, coverage.CountCovered(e.GlobalCoverage()))
}

// TestMinimizeOnStagnation tests that a large stagnant corpus is minimized once
func TestMinimizeOnStagnation(t *testing.T) {
	f := newFixture(t, interfaces.ModeGreybox, oneEdgePerInput)
	f.config.MinimizeThreshold = 1
	f.config.StagnationWindow = 10
	e := f.engine(t)

	small := new(coverage.Map)
	small[1] = 1
	big := new(coverage.Map)
	big[1], big[2] = 1, 1
	_, _ = f.corpus.Save(1, small, 1, false)
	_, _ = f.corpus.Save(2, big, 2, false)

	e.maybeMinimize(5)
	assert.Equal(t, 2, f.corpus.Size())

	e.maybeMinimize(11)
	assert.Equal(t, 1, f.corpus.Size())
	assert.Nil(t, f.corpus.Get(1))
	assert.Equal(t, int64(1), e.Stats().Snapshot().Minimizations)

	// The window restarts after a minimization
	_, _ = f.corpus.Save(3, small, 1, false)
	e.maybeMinimize(12)
	assert.Equal(t, 2, f.corpus.Size())
}

// TestCloseIsIdempotent tests that cleanup runs exactly once
func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, interfaces.ModeRandom, oneEdgePerInput)
	calls := 0
	boom := errors.New("boom")

	e, err := NewEngine(f.config, Dependencies{
		Executor: f.target,
		Findings: f.findings,
		Progress: f.progress,
		Logger:   quietLogger(),
		Cleanup: []func() error{
			func() error { calls++; return nil },
			func() error { return boom },
		},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, e.Close(), boom)
	assert.ErrorIs(t, e.Close(), boom)
	assert.Equal(t, 1, calls)
}
