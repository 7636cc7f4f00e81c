/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: minimize_test.go
Description: Tests for offline corpus re-evaluation and minimization.
*/

package core

import (
	"context"
	"math/rand"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/corpus"
	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scriptedCorpusTarget() *fakeTarget {
	return &fakeTarget{
		cov: &fakeCollector{},
		behave: func(input int32) (execution.Result, []int) {
			switch input {
			case 1:
				return execution.Result{Kind: execution.NormalExit}, []int{10}
			case 2:
				return execution.Result{Kind: execution.NormalExit}, []int{10, 11}
			case 3:
				return execution.Result{Kind: execution.Crash, Signal: syscall.SIGSEGV}, []int{10}
			default:
				return execution.Result{Kind: execution.InternalError}, nil
			}
		},
	}
}

func writeCorpus(t *testing.T, fs afero.Fs, dir string, inputs ...string) {
	t.Helper()
	for _, in := range inputs {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, corpus.FilePrefix+in), []byte(in+"\n"), 0o644))
	}
}

// TestMinimizeWith tests that redundant entries are removed while findings and
// entries that could not be re-evaluated survive
func TestMinimizeWith(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs, "corpus", "1", "2", "3", "4")
	target := scriptedCorpusTarget()

	result, err := minimizeWith(context.Background(), fs, "corpus", "target_fuzz", time.Second,
		rand.New(rand.NewSource(1)), target, target.cov, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, 4, result.Loaded)
	assert.Equal(t, 3, result.Evaluated)
	assert.Equal(t, 1, result.Findings)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 3, result.Remaining)
	assert.Equal(t, 2, result.Edges)
	assert.Equal(t, []int32{1, 2, 3, 4}, target.calls)

	gone, err := afero.Exists(fs, filepath.Join("corpus", corpus.FilePrefix+"1"))
	require.NoError(t, err)
	assert.False(t, gone)
	kept, err := afero.Exists(fs, filepath.Join("corpus", corpus.FilePrefix+"3"))
	require.NoError(t, err)
	assert.True(t, kept)
}

// TestReevaluateCancelled tests that a cancelled context stops before executing anything
func TestReevaluateCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs, "corpus", "1", "2")
	store := corpus.NewStore(fs, rand.New(rand.NewSource(1)), quietLogger())
	require.NoError(t, store.Initialize("corpus"))
	_, err := store.Load("corpus")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	target := scriptedCorpusTarget()

	result, _, err := Reevaluate(ctx, target, target.cov, store, "target_fuzz", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Evaluated)
	assert.Empty(t, target.calls)
	assert.True(t, store.Get(1).NeedsEvaluation)
}

// TestReevaluateScoresAgainstEarlierEntries tests that fitness grows with the novelty bonus
func TestReevaluateScoresAgainstEarlierEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs, "corpus", "1", "2")
	store := corpus.NewStore(fs, rand.New(rand.NewSource(1)), quietLogger())
	require.NoError(t, store.Initialize("corpus"))
	_, err := store.Load("corpus")
	require.NoError(t, err)
	target := scriptedCorpusTarget()

	result, global, err := Reevaluate(context.Background(), target, target.cov, store, "target_fuzz", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Evaluated)
	assert.Equal(t, 2, result.Edges)
	assert.Equal(t, byte(1), global[11])

	// 1 covers edge 10 first: 1 + 10*1
	assert.Equal(t, 11.0, store.Get(1).Fitness)
	// 2 adds edge 11 only: 2 + 10*1
	assert.Equal(t, 12.0, store.Get(2).Fitness)
	assert.False(t, store.Get(2).NeedsEvaluation)
}
