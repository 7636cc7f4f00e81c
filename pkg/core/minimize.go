/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: minimize.go
Description: Offline corpus maintenance. Loads a persisted corpus, re-executes every
entry to rebuild its coverage and fitness, and removes entries whose edges are already
covered by the rest.
*/

package core

import (
	"context"
	"fmt"
	"math/rand"
	"syscall"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/corpus"
	"github.com/kleascm/akaylee-greybox/pkg/coverage"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/kleascm/akaylee-greybox/pkg/shm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// MinimizeResult describes one offline minimization
type MinimizeResult struct {
	Loaded    int `json:"loaded"`
	Evaluated int `json:"evaluated"`
	Findings  int `json:"findings"` // entries that crashed or timed out, kept as interesting
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
	Edges     int `json:"edges"`
}

// Reevaluate executes every entry still flagged for evaluation, in input order.
// Entries that crash or time out are marked interesting so minimization keeps them.
// Entries whose run fails internally stay flagged.
func Reevaluate(ctx context.Context, executor Executor, collector coverage.Collector, store *corpus.Store,
	targetPath string, timeout time.Duration) (*MinimizeResult, *coverage.Map, error) {
	result := &MinimizeResult{}
	global := new(coverage.Map)

	for _, entry := range store.Entries() {
		if !entry.NeedsEvaluation {
			coverage.MergeInto(global, entry.Coverage)
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, global, err
		}

		collector.Reset()
		res := executor.Execute(ctx, targetPath, entry.Input, timeout)
		if !res.Completed() {
			continue
		}
		live := collector.Map()
		store.MarkEvaluated(entry.Input, live, coverage.Fitness(live, global))
		coverage.MergeInto(global, live)
		result.Evaluated++

		if res.IsFinding() {
			store.MarkInteresting(entry.Input)
			result.Findings++
		}
	}
	result.Edges = coverage.CountCovered(global)
	return result, global, nil
}

// MinimizeCorpus loads dir, re-evaluates it against targetPath and minimizes it in place
func MinimizeCorpus(ctx context.Context, fs afero.Fs, dir, targetPath string, timeout time.Duration,
	seed int64, logger *logrus.Logger) (result *MinimizeResult, err error) {
	channel, err := shm.Setup(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up coverage channel: %w", err)
	}
	harness := execution.NewHarness(channel, execution.Config{
		ReservedExitCodes: DefaultSessionConfig().ReservedExitCodes,
		KillSignal:        syscall.SIGKILL,
	}, logger)
	defer func() {
		err = multierr.Combine(err, harness.Cleanup(), channel.Destroy())
	}()

	return minimizeWith(ctx, fs, dir, targetPath, timeout, NewSessionRand(seed), harness, channel, logger)
}

func minimizeWith(ctx context.Context, fs afero.Fs, dir, targetPath string, timeout time.Duration,
	rng *rand.Rand, executor Executor, collector coverage.Collector, logger *logrus.Logger) (*MinimizeResult, error) {
	store := corpus.NewStore(fs, rng, logger)
	if err := store.Initialize(dir); err != nil {
		return nil, err
	}
	defer store.Teardown()

	loaded, err := store.Load(dir)
	if err != nil {
		return nil, err
	}

	result, _, err := Reevaluate(ctx, executor, collector, store, targetPath, timeout)
	result.Loaded = loaded
	if err != nil {
		return result, fmt.Errorf("re-evaluation interrupted: %w", err)
	}

	result.Removed = store.Minimize()
	result.Remaining = store.Size()

	logger.WithFields(logrus.Fields{
		"dir":       dir,
		"loaded":    result.Loaded,
		"evaluated": result.Evaluated,
		"removed":   result.Removed,
		"remaining": result.Remaining,
		"edges":     result.Edges,
	}).Info("Corpus minimization finished")
	return result, nil
}
