/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utilities.go
Description: Utility commands for the greybox fuzzer: list-mutators, the self-check
and offline corpus minimization.
*/

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kleascm/akaylee-greybox/pkg/core"
	"github.com/kleascm/akaylee-greybox/pkg/shm"
	"github.com/kleascm/akaylee-greybox/pkg/strategies"
	"github.com/kleascm/akaylee-greybox/pkg/target"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ListMutators lists all available mutators and their capabilities
func ListMutators(cmd *cobra.Command, args []string) {
	fmt.Println("🧬 Akaylee Greybox - Available Mutators")
	fmt.Println("=======================================")
	fmt.Println()

	for i, m := range strategies.Registry() {
		fmt.Printf("%d. %s\n", i+1, m.Name())
		fmt.Printf("   Description: %s\n", m.Description())
		fmt.Println()
	}

	havoc := strategies.NewHavocMutator()
	fmt.Printf("✨ %s: %s\n", havoc.Name(), havoc.Description())
	fmt.Println("   Crossover between corpus entries uses single-point, two-point or uniform bit mixing")
}

// selfCheck is one named check run by PerformSelfCheck
type selfCheck struct {
	name     string
	function func() error
}

// PerformSelfCheck performs comprehensive system validation
func PerformSelfCheck(cmd *cobra.Command, args []string) error {
	fmt.Println("🔍 Akaylee Greybox - System Self-Check")
	fmt.Println("======================================")
	fmt.Println()

	checks := []selfCheck{
		{"Shared Memory Coverage Segment", checkSharedMemory},
		{"Compiler (" + target.DefaultCompiler + ")", checkCompiler},
	}
	passed := runChecks(checks)
	total := len(checks)

	fmt.Println()
	fmt.Printf("📊 Results: %d/%d checks passed\n", passed, total)

	if passed == total {
		fmt.Println("✨ All checks passed! System is ready for fuzzing.")
		return nil
	}
	fmt.Println("⚠️  Some checks failed. Please address the issues before fuzzing.")
	return fmt.Errorf("%d/%d checks failed", total-passed, total)
}

func runChecks(checks []selfCheck) int {
	passed := 0
	for _, check := range checks {
		fmt.Printf("🔍 %s... ", check.name)
		if err := check.function(); err != nil {
			fmt.Printf("❌ FAILED: %v\n", err)
			continue
		}
		fmt.Println("✅ PASSED")
		passed++
	}
	return passed
}

// checkSharedMemory allocates and releases one coverage segment
func checkSharedMemory() error {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	channel, err := shm.Setup(logger)
	if err != nil {
		return err
	}
	channel.Reset()
	return channel.Destroy()
}

// checkCompiler verifies clang is installed
func checkCompiler() error {
	_, err := target.CompilerAvailable(target.DefaultCompiler)
	return err
}

// PerformMinimize re-evaluates and minimizes a persisted corpus
func PerformMinimize(cmd *cobra.Command, args []string) error {
	fmt.Println("✂️  Akaylee Greybox - Corpus Minimization")
	fmt.Println("=========================================")
	fmt.Println()

	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := SetupLogging()
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logger.Close()

	dir := viper.GetString("minimize.corpus_dir")
	targetPath := viper.GetString("minimize.target")
	if target.IsSource(targetPath) {
		return fmt.Errorf("minimize needs an instrumented binary, got source %s", targetPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("📁 Corpus: %s\n", dir)
	fmt.Printf("🎯 Target: %s\n", targetPath)
	fmt.Println()

	result, err := core.MinimizeCorpus(ctx, afero.NewOsFs(), dir, targetPath,
		viper.GetDuration("minimize.timeout"), viper.GetInt64("seed"), logger.GetLogger())
	if result != nil {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Loaded", "Evaluated", "Findings", "Removed", "Remaining", "Edges"})
		table.Append([]string{
			fmt.Sprint(result.Loaded),
			fmt.Sprint(result.Evaluated),
			fmt.Sprint(result.Findings),
			fmt.Sprint(result.Removed),
			fmt.Sprint(result.Remaining),
			fmt.Sprint(result.Edges),
		})
		table.Render()
	}
	if err != nil {
		return fmt.Errorf("corpus minimization failed: %w", err)
	}

	fmt.Println("\n✨ Corpus minimized!")
	return nil
}
