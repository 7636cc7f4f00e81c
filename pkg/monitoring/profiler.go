/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: profiler.go
Description: Profiling of the fuzzer process itself. Records a CPU profile for the
length of a session and writes a heap profile when it ends, so slow sessions can be
inspected with go tool pprof.
*/

package monitoring

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ProfilerType represents the type of profiling
type ProfilerType string

const (
	ProfilerTypeCPU    ProfilerType = "cpu"
	ProfilerTypeMemory ProfilerType = "memory"
)

// ProfilerConfig represents profiling configuration
type ProfilerConfig struct {
	OutputDir     string `json:"output_dir"`
	CPUProfile    bool   `json:"cpu_profile"`
	MemoryProfile bool   `json:"memory_profile"`
}

// Enabled reports whether any profile is requested
func (c *ProfilerConfig) Enabled() bool {
	return c != nil && (c.CPUProfile || c.MemoryProfile)
}

// ProfileResult describes one written profile
type ProfileResult struct {
	Type       ProfilerType  `json:"type"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	OutputFile string        `json:"output_file"`
	Size       int64         `json:"size"`
}

// Profiler records CPU and heap profiles between Start and Stop
type Profiler struct {
	config *ProfilerConfig
	logger *logrus.Logger

	mu        sync.Mutex
	running   bool
	startTime time.Time
	cpuFile   *os.File
	cpuPath   string
	results   []ProfileResult
}

// NewProfiler creates a new profiler
func NewProfiler(config *ProfilerConfig, logger *logrus.Logger) *Profiler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Profiler{config: config, logger: logger}
}

// Start begins profiling
func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("profiler already running")
	}
	if err := os.MkdirAll(p.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	p.startTime = time.Now()

	if p.config.CPUProfile {
		p.cpuPath = p.path(ProfilerTypeCPU)
		file, err := os.Create(p.cpuPath)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(file); err != nil {
			file.Close()
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		p.cpuFile = file
	}

	p.running = true
	p.logger.WithFields(logrus.Fields{
		"dir":    p.config.OutputDir,
		"cpu":    p.config.CPUProfile,
		"memory": p.config.MemoryProfile,
	}).Info("Profiler started")
	return nil
}

// Stop finishes the CPU profile and writes the heap profile
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return fmt.Errorf("profiler not running")
	}
	p.running = false

	var err error
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		err = multierr.Append(err, p.cpuFile.Close())
		p.cpuFile = nil
		p.record(ProfilerTypeCPU, p.cpuPath)
	}

	if p.config.MemoryProfile {
		err = multierr.Append(err, p.writeHeapProfile())
	}

	p.logger.WithField("profiles", len(p.results)).Info("Profiler stopped")
	return err
}

// Results returns the profiles written so far
func (p *Profiler) Results() []ProfileResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProfileResult(nil), p.results...)
}

func (p *Profiler) writeHeapProfile() error {
	path := p.path(ProfilerTypeMemory)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create memory profile file: %w", err)
	}
	defer file.Close()

	// Up-to-date allocation statistics
	runtime.GC()
	if err := pprof.WriteHeapProfile(file); err != nil {
		return fmt.Errorf("failed to write memory profile: %w", err)
	}
	p.record(ProfilerTypeMemory, path)
	return nil
}

func (p *Profiler) path(kind ProfilerType) string {
	return filepath.Join(p.config.OutputDir, fmt.Sprintf("%s_%d.prof", kind, p.startTime.Unix()))
}

func (p *Profiler) record(kind ProfilerType, path string) {
	result := ProfileResult{
		Type:       kind,
		StartTime:  p.startTime,
		Duration:   time.Since(p.startTime),
		OutputFile: path,
	}
	if info, err := os.Stat(path); err == nil {
		result.Size = info.Size()
	}
	p.results = append(p.results, result)
	p.logger.WithFields(logrus.Fields{
		"type": kind,
		"file": path,
		"size": result.Size,
	}).Debug("Profile written")
}
