/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils_test.go
Description: Tests for turning command settings into a session configuration.
*/

package commands

import (
	"context"
	"testing"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/core"
	"github.com/kleascm/akaylee-greybox/pkg/interfaces"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSessionConfigFromDefaults tests that unset keys keep the session defaults
func TestSessionConfigFromDefaults(t *testing.T) {
	v := viper.New()
	v.Set("target_path", "problems/Problem1_fuzz")

	config, err := SessionConfigFrom(v)
	require.NoError(t, err)

	defaults := core.DefaultSessionConfig()
	assert.Equal(t, "problems/Problem1_fuzz", config.TargetPath)
	assert.Equal(t, interfaces.ModeGreybox, config.Mode)
	assert.Equal(t, defaults.Iterations, config.Iterations)
	assert.Equal(t, defaults.MinInput, config.MinInput)
	assert.Equal(t, defaults.MaxInput, config.MaxInput)
	assert.Equal(t, defaults.CorpusDir, config.CorpusDir)
	assert.Equal(t, defaults.Evolution, config.Evolution)
}

// TestSessionConfigFromOverrides tests that every bound key reaches the configuration
func TestSessionConfigFromOverrides(t *testing.T) {
	v := viper.New()
	v.Set("target_path", "t_fuzz")
	v.Set("random", true)
	v.Set("iterations", 42)
	v.Set("timeout", "2s")
	v.Set("min_input", -5)
	v.Set("max_input", 5)
	v.Set("corpus_dir", "c")
	v.Set("output_dir", "o")
	v.Set("report_path", "r.html")
	v.Set("resume", true)
	v.Set("nonzero_exit_policy", "timeout")
	v.Set("evolution.population_size", 8)
	v.Set("evolution.mutation_rate", 0.5)

	config, err := SessionConfigFrom(v)
	require.NoError(t, err)

	assert.Equal(t, interfaces.ModeRandom, config.Mode)
	assert.Equal(t, 42, config.Iterations)
	assert.Equal(t, 2*time.Second, config.Timeout)
	assert.Equal(t, int32(-5), config.MinInput)
	assert.Equal(t, int32(5), config.MaxInput)
	assert.Equal(t, "c", config.CorpusDir)
	assert.Equal(t, "o", config.OutputDir)
	assert.Equal(t, "r.html", config.ReportPath)
	assert.True(t, config.Resume)
	assert.Equal(t, core.NonZeroAsTimeout, config.NonZeroExitPolicy)
	assert.Equal(t, 8, config.Evolution.PopulationSize)
	assert.Equal(t, 0.5, config.Evolution.MutationRate)
}

// TestSessionConfigFromInvalid tests that validation errors are returned
func TestSessionConfigFromInvalid(t *testing.T) {
	v := viper.New()
	_, err := SessionConfigFrom(v)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	v.Set("target_path", "t_fuzz")
	v.Set("nonzero_exit_policy", "explode")
	_, err = SessionConfigFrom(v)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	v.Set("nonzero_exit_policy", "log")
	v.Set("min_input", 10)
	v.Set("max_input", 1)
	_, err = SessionConfigFrom(v)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

// TestPrepareTargetBinary tests that binaries and --no-compile sources are left alone
func TestPrepareTargetBinary(t *testing.T) {
	fs := afero.NewMemMapFs()
	logger := logrus.New()

	config := core.DefaultSessionConfig()
	config.TargetPath = "bin/Problem1_fuzz"
	cleanup, err := prepareTarget(context.Background(), fs, config, viper.New(), logger)
	require.NoError(t, err)
	assert.Empty(t, cleanup)
	assert.Equal(t, "bin/Problem1_fuzz", config.TargetPath)

	v := viper.New()
	v.Set("no_compile", true)
	config.TargetPath = "Problem1.c"
	cleanup, err = prepareTarget(context.Background(), fs, config, v, logger)
	require.NoError(t, err)
	assert.Empty(t, cleanup)
	assert.Equal(t, "Problem1.c", config.TargetPath)
	assert.Equal(t, core.DefaultSessionConfig().MinInput, config.MinInput)
}

// TestPrepareTargetMissingSource tests that an unreadable source fails before compiling
func TestPrepareTargetMissingSource(t *testing.T) {
	config := core.DefaultSessionConfig()
	config.TargetPath = "missing.c"

	_, err := prepareTarget(context.Background(), afero.NewMemMapFs(), config, viper.New(), logrus.New())
	assert.Error(t, err)
}

// TestStatsRows tests the final statistics table content
func TestStatsRows(t *testing.T) {
	stats := &core.SessionStats{
		SessionID:     "abc",
		Mode:          interfaces.ModeGreybox,
		Duration:      2 * time.Second,
		Executions:    10,
		Crashes:       1,
		CoverageEdges: 7,
	}

	rows := statsRows(stats)
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		require.Len(t, row, 2)
		values[row[0]] = row[1]
	}
	assert.Equal(t, "abc", values["Session"])
	assert.Equal(t, "greybox", values["Mode"])
	assert.Equal(t, "5.0", values["Rate (exec/s)"])
	assert.Equal(t, "1", values["Crashes"])
	assert.Equal(t, "7", values["Coverage edges"])
}
