/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Command-line interface for the Akaylee greybox fuzzer. Defines the fuzz,
minimize, check and list-mutators commands and binds their flags into viper so a config
file and AKAYLEE_* environment variables can supply the same settings.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kleascm/akaylee-greybox/cmd/fuzzer/commands"
	"github.com/kleascm/akaylee-greybox/pkg/core"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Configuration
	configFile string
	logLevel   string

	// Logging configuration
	logDir      string
	logFormat   string
	logMaxFiles int

	// Target configuration
	targetPath string
	noCompile  bool
	minInput   int32
	maxInput   int32

	// Session configuration
	randomMode bool
	iterations int
	timeout    time.Duration
	seed       int64
	corpusDir  string
	outputDir  string
	resume     bool
	nonZero    string

	// Outputs
	progressLog string
	reportPath  string
	metricsAddr string

	// Performance configuration
	profileCPU    bool
	profileMemory bool
	profileDir    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "akaylee-greybox",
		Short: "Akaylee Greybox - coverage-guided fuzzer for integer-input C programs",
		Long: `Akaylee Greybox compiles a C program with edge coverage instrumentation, feeds it
32-bit integers on stdin and evolves inputs that reach new edges. Crashing and hanging
inputs are saved as findings; inputs that found new coverage form a persistent corpus.`,
		Version: "1.0.0",
	}

	// Persistent flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Log output directory (empty logs to console only)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "custom", "Log format (text, json, custom)")
	rootCmd.PersistentFlags().IntVar(&logMaxFiles, "log-max-files", 10, "Maximum number of log files to keep")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_dir", rootCmd.PersistentFlags().Lookup("log-dir"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("log_max_files", rootCmd.PersistentFlags().Lookup("log-max-files"))

	// Add fuzz command
	fuzzCmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Start fuzzing a target program",
		Long: `Start a fuzzing session. A .c target is compiled with coverage instrumentation first
unless --no-compile is given. Without --min/--max the input range is derived from the
integer literals the source compares against.`,
		RunE: commands.RunFuzz,
	}

	defaults := core.DefaultSessionConfig()
	fuzzCmd.Flags().StringVar(&targetPath, "target", "", "C source or instrumented binary (required)")
	fuzzCmd.Flags().BoolVar(&noCompile, "no-compile", false, "Treat --target as an already instrumented binary")
	fuzzCmd.Flags().Int32Var(&minInput, "min", defaults.MinInput, "Smallest input value")
	fuzzCmd.Flags().Int32Var(&maxInput, "max", defaults.MaxInput, "Largest input value")

	fuzzCmd.Flags().BoolVar(&randomMode, "random", false, "Random mode: uniform inputs, no corpus")
	fuzzCmd.Flags().Bool("greybox", true, "Greybox mode: corpus and evolutionary search (default)")
	fuzzCmd.Flags().IntVar(&iterations, "iterations", defaults.Iterations, "Number of fuzzing iterations")
	fuzzCmd.Flags().DurationVar(&timeout, "timeout", defaults.Timeout, "Per-execution timeout, rounded up to whole seconds")
	fuzzCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 derives one from time and pid)")

	fuzzCmd.Flags().StringVar(&corpusDir, "corpus", defaults.CorpusDir, "Corpus directory")
	fuzzCmd.Flags().StringVar(&outputDir, "output", defaults.OutputDir, "Directory for findings and summaries")
	fuzzCmd.Flags().BoolVar(&resume, "resume", false, "Load the existing corpus before fuzzing")
	fuzzCmd.Flags().StringVar(&nonZero, "nonzero-exit-policy", string(defaults.NonZeroExitPolicy), "Non-zero exits: ignore, log or timeout")

	fuzzCmd.Flags().StringVar(&progressLog, "progress-log", defaults.ProgressLog, "Coverage progress CSV")
	fuzzCmd.Flags().StringVar(&reportPath, "report", "", "Write an HTML report to this path")
	fuzzCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")

	fuzzCmd.Flags().BoolVar(&profileCPU, "profile-cpu", false, "Write a CPU profile of the fuzzer")
	fuzzCmd.Flags().BoolVar(&profileMemory, "profile-memory", false, "Write a heap profile of the fuzzer when the session ends")
	fuzzCmd.Flags().StringVar(&profileDir, "profile-dir", "./profiles", "Directory for profiles")

	fuzzCmd.Flags().Int("population-size", defaults.Evolution.PopulationSize, "Population size")
	fuzzCmd.Flags().Int("tournament-size", defaults.Evolution.TournamentSize, "Tournament size")
	fuzzCmd.Flags().Float64("mutation-rate", defaults.Evolution.MutationRate, "Per-child mutation probability")
	fuzzCmd.Flags().Float64("crossover-rate", defaults.Evolution.CrossoverRate, "Per-pair crossover probability")

	fuzzCmd.MarkFlagRequired("target")
	fuzzCmd.MarkFlagsMutuallyExclusive("random", "greybox")

	viper.BindPFlag("target_path", fuzzCmd.Flags().Lookup("target"))
	viper.BindPFlag("no_compile", fuzzCmd.Flags().Lookup("no-compile"))
	viper.BindPFlag("min_input", fuzzCmd.Flags().Lookup("min"))
	viper.BindPFlag("max_input", fuzzCmd.Flags().Lookup("max"))
	viper.BindPFlag("random", fuzzCmd.Flags().Lookup("random"))
	viper.BindPFlag("iterations", fuzzCmd.Flags().Lookup("iterations"))
	viper.BindPFlag("timeout", fuzzCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("seed", fuzzCmd.Flags().Lookup("seed"))
	viper.BindPFlag("corpus_dir", fuzzCmd.Flags().Lookup("corpus"))
	viper.BindPFlag("output_dir", fuzzCmd.Flags().Lookup("output"))
	viper.BindPFlag("resume", fuzzCmd.Flags().Lookup("resume"))
	viper.BindPFlag("nonzero_exit_policy", fuzzCmd.Flags().Lookup("nonzero-exit-policy"))
	viper.BindPFlag("progress_log", fuzzCmd.Flags().Lookup("progress-log"))
	viper.BindPFlag("report_path", fuzzCmd.Flags().Lookup("report"))
	viper.BindPFlag("metrics_addr", fuzzCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("profile_cpu", fuzzCmd.Flags().Lookup("profile-cpu"))
	viper.BindPFlag("profile_memory", fuzzCmd.Flags().Lookup("profile-memory"))
	viper.BindPFlag("profile_dir", fuzzCmd.Flags().Lookup("profile-dir"))
	viper.BindPFlag("evolution.population_size", fuzzCmd.Flags().Lookup("population-size"))
	viper.BindPFlag("evolution.tournament_size", fuzzCmd.Flags().Lookup("tournament-size"))
	viper.BindPFlag("evolution.mutation_rate", fuzzCmd.Flags().Lookup("mutation-rate"))
	viper.BindPFlag("evolution.crossover_rate", fuzzCmd.Flags().Lookup("crossover-rate"))

	rootCmd.AddCommand(fuzzCmd)

	// Add minimize command
	minimizeCmd := &cobra.Command{
		Use:   "minimize",
		Short: "Minimize a persisted corpus",
		Long: `Load a corpus directory, re-execute every entry against an instrumented target and
delete the entries whose edges are already covered by the others. Entries that crash
or time out are always kept.`,
		RunE: commands.PerformMinimize,
	}
	minimizeCmd.Flags().String("corpus", defaults.CorpusDir, "Corpus directory")
	minimizeCmd.Flags().String("target", "", "Instrumented target binary (required)")
	minimizeCmd.Flags().Duration("timeout", defaults.Timeout, "Per-execution timeout")
	minimizeCmd.MarkFlagRequired("target")
	viper.BindPFlag("minimize.corpus_dir", minimizeCmd.Flags().Lookup("corpus"))
	viper.BindPFlag("minimize.target", minimizeCmd.Flags().Lookup("target"))
	viper.BindPFlag("minimize.timeout", minimizeCmd.Flags().Lookup("timeout"))
	rootCmd.AddCommand(minimizeCmd)

	// Add list-mutators command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "list-mutators",
		Short: "List the integer mutation operators",
		Run:   commands.ListMutators,
	})

	// Add check command for built-in self-checks
	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Perform built-in self-checks for system validation",
		Long: `Verify that a shared memory coverage segment can be allocated and released and
that clang is available to build instrumented targets.`,
		RunE: commands.PerformSelfCheck,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
