/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: findings.go
Description: Persistence of crash and timeout findings. Each finding becomes a file holding
the decimal input in the crashes or timeouts directory. Existing files are never overwritten.
*/

package analysis

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/kleascm/akaylee-greybox/pkg/execution"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	// CrashDir is the subdirectory for crash findings
	CrashDir = "crashes"
	// TimeoutDir is the subdirectory for timeout findings
	TimeoutDir = "timeouts"
)

// Finding is one persisted crash or timeout
type Finding struct {
	Path      string
	Iteration int
	Triage    *TriageResult
	FoundAt   time.Time
}

// FindingStore writes findings below a root directory
type FindingStore struct {
	fs     afero.Fs
	root   string
	now    func() time.Time
	logger *logrus.Logger

	mu       sync.Mutex
	findings []Finding
	buckets  map[string]int
}

// NewFindingStore creates the crash and timeout directories below root
func NewFindingStore(fs afero.Fs, root string, logger *logrus.Logger) (*FindingStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	for _, dir := range []string{CrashDir, TimeoutDir} {
		if err := fs.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create findings directory %s: %w", dir, err)
		}
	}
	return &FindingStore{
		fs:      fs,
		root:    root,
		now:     time.Now,
		logger:  logger,
		buckets: make(map[string]int),
	}, nil
}

// Save triages and persists a crash or timeout result.
// Non-finding results are ignored and return a nil finding.
func (s *FindingStore) Save(result *execution.Result, iteration int) (*Finding, error) {
	tr := Triage(result)
	if tr == nil {
		return nil, nil
	}

	dir := CrashDir
	if result.Kind == execution.Timeout {
		dir = TimeoutDir
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	path, err := s.create(dir, result.Input, now)
	if err != nil {
		return nil, err
	}

	f := Finding{Path: path, Iteration: iteration, Triage: tr, FoundAt: now}
	s.findings = append(s.findings, f)
	s.buckets[tr.Bucket]++

	s.logger.WithFields(logrus.Fields{
		"path":     path,
		"type":     tr.CrashType,
		"severity": tr.Severity.String(),
	}).Debug("Finding saved")
	return &f, nil
}

// create writes the input to a fresh file, adding a numeric suffix if the name is taken
func (s *FindingStore) create(dir string, input int32, now time.Time) (string, error) {
	base := filepath.Join(s.root, dir, fmt.Sprintf("finding_%d_%d", input, now.Unix()))
	data := []byte(strconv.FormatInt(int64(input), 10) + "\n")

	for attempt := 0; attempt < 1000; attempt++ {
		path := base
		if attempt > 0 {
			path = fmt.Sprintf("%s_%d", base, attempt)
		}
		if exists, err := afero.Exists(s.fs, path); err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		} else if exists {
			continue
		}

		f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create finding %s: %w", path, err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil {
			return "", fmt.Errorf("failed to write finding %s: %w", path, werr)
		}
		if cerr != nil {
			return "", fmt.Errorf("failed to close finding %s: %w", path, cerr)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free finding name for %s", base)
}

// Findings returns a copy of everything saved so far
func (s *FindingStore) Findings() []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Finding, len(s.findings))
	copy(out, s.findings)
	return out
}

// Buckets returns how many findings fell into each bucket
func (s *FindingStore) Buckets() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = v
	}
	return out
}
