/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: profiler_test.go
Description: Tests for the session profiler.
*/

package monitoring

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProfilerWritesProfiles tests that both profiles end up on disk
func TestProfilerWritesProfiles(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	config := &ProfilerConfig{OutputDir: t.TempDir(), CPUProfile: true, MemoryProfile: true}
	require.True(t, config.Enabled())

	p := NewProfiler(config, logger)
	require.NoError(t, p.Start())
	assert.Error(t, p.Start())

	sum := 0
	for i := 0; i < 100000; i++ {
		sum += i
	}
	require.NoError(t, p.Stop())
	assert.Error(t, p.Stop())

	results := p.Results()
	require.Len(t, results, 2)
	assert.Equal(t, ProfilerTypeCPU, results[0].Type)
	assert.Equal(t, ProfilerTypeMemory, results[1].Type)
	for _, r := range results {
		info, err := os.Stat(r.OutputFile)
		require.NoError(t, err)
		assert.Equal(t, info.Size(), r.Size)
	}
}

// TestProfilerConfigEnabled tests the enabled switch
func TestProfilerConfigEnabled(t *testing.T) {
	var nilConfig *ProfilerConfig
	assert.False(t, nilConfig.Enabled())
	assert.False(t, (&ProfilerConfig{OutputDir: "x"}).Enabled())
	assert.True(t, (&ProfilerConfig{MemoryProfile: true}).Enabled())
}
