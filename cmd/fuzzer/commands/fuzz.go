/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: fuzz.go
Description: Fuzz command implementation. Prepares the target (compiling C sources with
coverage instrumentation and deriving the input range from their comparisons), runs one
session with signal handling, periodic statistics and optional Prometheus metrics, and
prints the final statistics table.
*/

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-greybox/pkg/core"
	"github.com/kleascm/akaylee-greybox/pkg/logging"
	"github.com/kleascm/akaylee-greybox/pkg/monitoring"
	"github.com/kleascm/akaylee-greybox/pkg/target"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// statsInterval is the period of the statistics line printed while fuzzing
const statsInterval = 5 * time.Second

// RunFuzz executes the main fuzzing process
func RunFuzz(cmd *cobra.Command, args []string) error {
	fmt.Println("🚀 Akaylee Greybox - Starting Fuzzing Session")
	fmt.Println("=============================================")
	fmt.Println()

	// Load configuration first
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logging
	logger, err := SetupLogging()
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logger.Close()

	config, err := SessionConfigFrom(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	config.SessionID = uuid.NewString()

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup, err := prepareTarget(ctx, afero.NewOsFs(), config, viper.GetViper(), logger.GetLogger())
	if err != nil {
		return err
	}
	opts := []core.SessionOption{core.WithCleanup(cleanup...)}

	if addr := viper.GetString("metrics_addr"); addr != "" {
		metrics := monitoring.NewPrometheusReporter(config.SessionID)
		opts = append(opts, core.WithReporters(metrics))
		go func() {
			if err := metrics.Serve(ctx, addr, logger.GetLogger()); err != nil {
				logger.GetLogger().WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	profiler, err := startProfiler(logger.GetLogger())
	if err != nil {
		return err
	}
	if profiler != nil {
		defer func() {
			if err := profiler.Stop(); err != nil {
				logger.GetLogger().WithError(err).Warn("Failed to write profiles")
			}
		}()
	}

	done := make(chan struct{})
	opts = append(opts, core.OnStart(func(engine *core.Engine) {
		go reportStats(done, engine.Stats(), logger)
	}))

	printSessionHeader(config)
	stats, runErr := core.RunSession(ctx, config, logger.GetLogger(), opts...)
	close(done)

	if stats != nil {
		printFinalStats(stats)
	}
	if runErr != nil {
		return fmt.Errorf("fuzzing session failed: %w", runErr)
	}
	if stats != nil && stats.Interrupted {
		fmt.Println("\n🛑 Fuzzing session interrupted")
		return nil
	}

	fmt.Println("\n✨ Fuzzing session completed!")
	return nil
}

// prepareTarget compiles a C source target and fills in the input range from its
// comparisons when neither --min nor --max was given. Returns cleanups for built artifacts.
func prepareTarget(ctx context.Context, fs afero.Fs, config *core.SessionConfig, v *viper.Viper,
	logger *logrus.Logger) ([]func() error, error) {
	if !target.IsSource(config.TargetPath) || v.GetBool("no_compile") {
		return nil, nil
	}
	source := config.TargetPath

	if !v.IsSet("min_input") && !v.IsSet("max_input") {
		r, err := target.ScanRange(fs, source)
		if err != nil {
			return nil, err
		}
		if r.Valid {
			config.MinInput, config.MaxInput = r.Min, r.Max
		}
		logger.WithFields(logrus.Fields{
			"source":   source,
			"literals": r.Count,
			"min":      config.MinInput,
			"max":      config.MaxInput,
		}).Info("Input range derived from source")
	}

	binary, err := target.Compile(ctx, target.CompileConfig{Source: source, Logger: logger})
	if err != nil {
		return nil, err
	}
	config.TargetPath = binary
	cleanup := []func() error{func() error { return target.Cleanup(binary) }}

	if err := config.Validate(); err != nil {
		return nil, multierr.Append(err, target.Cleanup(binary))
	}
	return cleanup, nil
}

// startProfiler starts profiling the fuzzer itself when --profile-cpu or --profile-memory is set
func startProfiler(logger *logrus.Logger) (*monitoring.Profiler, error) {
	config := &monitoring.ProfilerConfig{
		OutputDir:     viper.GetString("profile_dir"),
		CPUProfile:    viper.GetBool("profile_cpu"),
		MemoryProfile: viper.GetBool("profile_memory"),
	}
	if !config.Enabled() {
		return nil, nil
	}
	profiler := monitoring.NewProfiler(config, logger)
	if err := profiler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start profiler: %w", err)
	}
	return profiler, nil
}

// reportStats periodically logs fuzzer statistics until done is closed
func reportStats(done <-chan struct{}, stats *core.SessionStats, logger *logging.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			executions := atomic.LoadInt64(&stats.Executions)
			rate := float64(executions) / time.Since(stats.StartTime).Seconds()
			logger.LogStats(executions, atomic.LoadInt64(&stats.Crashes), atomic.LoadInt64(&stats.Timeouts), rate, logrus.Fields{
				"iteration":   atomic.LoadInt64(&stats.Iterations),
				"edges":       atomic.LoadInt64(&stats.CoverageEdges),
				"corpus_size": atomic.LoadInt64(&stats.CorpusSize),
			})
		}
	}
}

func printSessionHeader(config *core.SessionConfig) {
	fmt.Printf("🎯 Target: %s\n", config.TargetPath)
	fmt.Printf("🧬 Mode: %s\n", config.Mode)
	fmt.Printf("📏 Input range: [%d, %d]\n", config.MinInput, config.MaxInput)
	fmt.Printf("🔁 Iterations: %d\n", config.Iterations)
	fmt.Println()
}

// printFinalStats prints the final statistics as a table
func printFinalStats(stats *core.SessionStats) {
	fmt.Println("\n📊 Final Statistics")
	fmt.Println("==================")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, row := range statsRows(stats) {
		table.Append(row)
	}
	table.Render()
}

func statsRows(stats *core.SessionStats) [][]string {
	return [][]string{
		{"Session", stats.SessionID},
		{"Mode", string(stats.Mode)},
		{"Runtime", stats.Duration.Round(time.Millisecond).String()},
		{"Iterations", strconv.FormatInt(stats.Iterations, 10)},
		{"Executions", strconv.FormatInt(stats.Executions, 10)},
		{"Rate (exec/s)", strconv.FormatFloat(stats.ExecutionsPerSecond(), 'f', 1, 64)},
		{"Crashes", strconv.FormatInt(stats.Crashes, 10)},
		{"Timeouts", strconv.FormatInt(stats.Timeouts, 10)},
		{"Non-zero exits", strconv.FormatInt(stats.NonZeroExits, 10)},
		{"Internal errors", strconv.FormatInt(stats.InternalErrors, 10)},
		{"Coverage edges", strconv.FormatInt(stats.CoverageEdges, 10)},
		{"Corpus size", strconv.FormatInt(stats.CorpusSize, 10)},
		{"Average fitness", strconv.FormatFloat(stats.AverageFitness, 'f', 2, 64)},
		{"Generations", strconv.FormatInt(stats.Generations, 10)},
	}
}
