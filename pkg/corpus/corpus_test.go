/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: corpus_test.go
Description: Tests for the corpus store using an in-memory filesystem. Covers saving and
upgrading entries, persistence and reload, random selection, minimization guarantees, and
statistics.
*/

package corpus

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/kleascm/akaylee-greybox/pkg/coverage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	s := NewStore(fs, rand.New(rand.NewSource(3)), logger)
	require.NoError(t, s.Initialize("corpus"))
	return s, fs
}

func mapWith(edges ...int) *coverage.Map {
	m := new(coverage.Map)
	for _, e := range edges {
		m[e] = 1
	}
	return m
}

// TestSaveAddsAndPersists tests that a new input is stored and written to disk
func TestSaveAddsAndPersists(t *testing.T) {
	s, fs := newTestStore(t)

	snap := mapWith(1, 2)
	outcome, err := s.Save(-17, snap, 12, true)
	require.NoError(t, err)
	assert.Equal(t, Added, outcome)
	assert.Equal(t, 1, s.Size())

	data, err := afero.ReadFile(fs, filepath.Join("corpus", "input_-17"))
	require.NoError(t, err)
	assert.Equal(t, "-17\n", string(data))

	// The stored snapshot is a deep copy
	snap[1] = 0
	assert.Equal(t, byte(1), s.Get(-17).Coverage[1])
}

// TestSaveOnlyUpgrades tests that existing entries are replaced only by fitter ones
func TestSaveOnlyUpgrades(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Save(5, mapWith(1), 10, false)
	require.NoError(t, err)

	outcome, err := s.Save(5, mapWith(2), 10, false)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, byte(1), s.Get(5).Coverage[1])

	outcome, err = s.Save(5, mapWith(2, 3), 20, false)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, 20.0, s.Get(5).Fitness)
	assert.Equal(t, byte(0), s.Get(5).Coverage[1])
	assert.Equal(t, 1, s.Size())
}

// TestLoadFlagsReevaluation tests reloading persisted inputs
func TestLoadFlagsReevaluation(t *testing.T) {
	s, fs := newTestStore(t)
	for _, v := range []int32{1, 2, 3} {
		_, err := s.Save(v, mapWith(int(v)), float64(v), false)
		require.NoError(t, err)
	}
	require.NoError(t, afero.WriteFile(fs, "corpus/input_bogus", []byte("nope"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "corpus/notes.txt", []byte("4\n"), 0o644))

	reloaded := NewStore(fs, rand.New(rand.NewSource(1)), logrus.New())
	require.NoError(t, reloaded.Initialize("corpus"))
	n, err := reloaded.Load("corpus")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	e := reloaded.Get(2)
	require.NotNil(t, e)
	assert.True(t, e.NeedsEvaluation)
	assert.Zero(t, e.Fitness)
	assert.False(t, e.Interesting)
	assert.Equal(t, 0, coverage.CountCovered(e.Coverage))

	reloaded.MarkEvaluated(2, mapWith(9), 11)
	e = reloaded.Get(2)
	assert.False(t, e.NeedsEvaluation)
	assert.Equal(t, 11.0, e.Fitness)
	assert.Equal(t, 1, reloaded.StatsSummary().UnionCoverage)
}

// TestLoadMissingDirectory tests the error path
func TestLoadMissingDirectory(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load("does-not-exist")
	assert.Error(t, err)
}

// TestSelect tests random selection on empty and populated stores
func TestSelect(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Nil(t, s.Select())
	assert.Nil(t, s.SelectDistinct(0))

	_, err := s.Save(1, nil, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), s.Select().Input)
	assert.Nil(t, s.SelectDistinct(1))

	_, err = s.Save(2, nil, 0, false)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		assert.Equal(t, int32(2), s.SelectDistinct(1).Input)
	}
}

// TestMinimizeKeepsUnion tests the three-entry redundancy scenario
func TestMinimizeKeepsUnion(t *testing.T) {
	s, fs := newTestStore(t)
	_, _ = s.Save(1, mapWith(1, 2), 2, false)
	_, _ = s.Save(2, mapWith(2, 3), 2, false)
	_, _ = s.Save(3, mapWith(1, 2, 3), 3, false)

	before := s.Union().Count()
	removed := s.Minimize()
	assert.GreaterOrEqual(t, removed, 1)
	assert.Equal(t, before, s.Union().Count())
	assert.Equal(t, 3-removed, s.Size())

	exists, err := afero.Exists(fs, "corpus/input_3")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = afero.Exists(fs, "corpus/input_1")
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestMinimizeRemovesSubset tests that only an entry contained in another is removed
func TestMinimizeRemovesSubset(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Save(1, mapWith(1), 1, false)
	_, _ = s.Save(2, mapWith(1, 2), 2, false)
	_, _ = s.Save(3, mapWith(5), 1, false)

	assert.Equal(t, 1, s.Minimize())
	assert.Equal(t, 2, s.Size())
	assert.Nil(t, s.Get(1))
	assert.NotNil(t, s.Get(2))
	assert.NotNil(t, s.Get(3))
	assert.Equal(t, uint(3), s.Union().Count())
}

// TestMinimizeKeepsInteresting tests that interesting entries survive even when redundant
func TestMinimizeKeepsInteresting(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Save(1, mapWith(1), 0, true)
	_, _ = s.Save(2, mapWith(1, 2), 2, false)
	_, _ = s.Save(3, mapWith(1, 2), 2, false)

	s.Minimize()
	require.NotNil(t, s.Get(1))
	assert.Equal(t, uint(2), s.Union().Count())
	assert.Equal(t, 2, s.Size())

	// Selection still works after removals
	for i := 0; i < 10; i++ {
		assert.NotNil(t, s.Select())
	}
}

// TestStatsSummary tests aggregated statistics
func TestStatsSummary(t *testing.T) {
	s, _ := newTestStore(t)
	st := s.StatsSummary()
	assert.Zero(t, st.Size)
	assert.Zero(t, st.MaxFitness)
	assert.Zero(t, s.AverageFitness())

	_, _ = s.Save(1, mapWith(1), 10, true)
	_, _ = s.Save(2, mapWith(1), 20, false)
	_, _ = s.Save(3, mapWith(4, 5), 30, false)

	st = s.StatsSummary()
	assert.Equal(t, 3, st.Size)
	assert.Equal(t, 1, st.Interesting)
	assert.Equal(t, 30.0, st.MaxFitness)
	assert.InDelta(t, 20.0, st.AverageFitness, 1e-9)
	assert.InDelta(t, 10.0, st.FitnessStdDev, 1e-9)
	assert.Equal(t, 3, st.UnionCoverage)
	assert.Equal(t, 2, st.UniqueSignatures)
	assert.InDelta(t, 20.0, s.AverageFitness(), 1e-9)
	assert.Equal(t, 3, s.StatsMap()["size"])
}

// TestTeardown tests that teardown empties the store and keeps files
func TestTeardown(t *testing.T) {
	s, fs := newTestStore(t)
	_, _ = s.Save(1, nil, 0, false)
	s.Teardown()
	assert.Zero(t, s.Size())
	exists, _ := afero.Exists(fs, "corpus/input_1")
	assert.True(t, exists)
}

// TestMarkInteresting tests that a flagged entry is protected from minimization
func TestMarkInteresting(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Save(1, mapWith(1), 5, false)
	_, _ = s.Save(2, mapWith(1, 2), 6, false)

	outcome, err := s.Save(1, nil, 0, true)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.False(t, s.Get(1).Interesting)

	s.MarkInteresting(1)
	s.MarkInteresting(99)
	assert.True(t, s.Get(1).Interesting)

	assert.Equal(t, 0, s.Minimize())
	assert.Equal(t, 2, s.Size())
}
