/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: compile.go
Description: Builds instrumented fuzz targets. Compiles the embedded coverage runtime in a
temporary build directory and links it with the C source, built with trace-pc-guard
instrumentation, into <source>_fuzz.
*/

package target

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

//go:embed runtime/coverage_runtime.c
var coverageRuntime []byte

// ErrCompile is wrapped by every compilation failure
var ErrCompile = errors.New("target compilation failed")

// DefaultCompiler is the compiler used when none is configured
const DefaultCompiler = "clang"

// CompileConfig describes one target build
type CompileConfig struct {
	Source   string   // C source file
	Output   string   // Defaults to OutputPath(Source)
	Compiler string   // Defaults to DefaultCompiler
	Flags    []string // Extra compiler flags
	Logger   *logrus.Logger
}

// Runtime returns the embedded coverage runtime source
func Runtime() []byte {
	return append([]byte(nil), coverageRuntime...)
}

// OutputPath returns the binary path for a source file: dir/<name without extension>_fuzz
func OutputPath(source string) string {
	dir, base := filepath.Split(source)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+"_fuzz")
}

// IsSource reports whether path looks like a C source file that needs compiling
func IsSource(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".c")
}

// CompilerAvailable returns the resolved compiler path or an error if it is not installed
func CompilerAvailable(compiler string) (string, error) {
	if compiler == "" {
		compiler = DefaultCompiler
	}
	path, err := exec.LookPath(compiler)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found: %w", ErrCompile, compiler, err)
	}
	return path, nil
}

// Args returns the compiler arguments for linking source with the runtime object into output
func Args(source, runtime, output string, flags []string) []string {
	args := []string{
		"-g", "-O0", "-w",
		"-fsanitize-coverage=trace-pc-guard",
	}
	args = append(args, flags...)
	return append(args, source, runtime, "-o", output)
}

// Compile builds the instrumented target and returns the binary path
func Compile(ctx context.Context, config CompileConfig) (string, error) {
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.Output == "" {
		config.Output = OutputPath(config.Source)
	}
	compiler, err := CompilerAvailable(config.Compiler)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(config.Source); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompile, err)
	}

	fs := afero.NewOsFs()
	buildDir, err := afero.TempDir(fs, "", "akaylee-build-")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create build directory: %w", ErrCompile, err)
	}
	defer fs.RemoveAll(buildDir)

	runtimePath := filepath.Join(buildDir, "coverage_runtime.c")
	if err := afero.WriteFile(fs, runtimePath, coverageRuntime, 0o644); err != nil {
		return "", fmt.Errorf("%w: failed to write coverage runtime: %w", ErrCompile, err)
	}

	// The runtime itself must not be instrumented
	runtimeObj := filepath.Join(buildDir, "coverage_runtime.o")
	if err := run(ctx, compiler, "-c", "-O2", "-w", runtimePath, "-o", runtimeObj); err != nil {
		return "", err
	}

	logger.WithFields(logrus.Fields{
		"compiler": compiler,
		"source":   config.Source,
		"output":   config.Output,
	}).Info("Compiling target")
	if err := run(ctx, compiler, Args(config.Source, runtimeObj, config.Output, config.Flags)...); err != nil {
		return "", err
	}

	logger.WithField("output", config.Output).Info("Target compiled")
	return config.Output, nil
}

func run(ctx context.Context, compiler string, args ...string) error {
	cmd := exec.CommandContext(ctx, compiler, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %w: %s", ErrCompile, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// Cleanup removes a compiled target. A missing file is not an error.
func Cleanup(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove target %s: %w", path, err)
	}
	return nil
}
