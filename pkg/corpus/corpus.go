/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: corpus.go
Description: Corpus store for the greybox fuzzer. Keeps one entry per distinct input with
its coverage snapshot and fitness, persists every new input to the corpus directory, selects
entries uniformly at random, and minimizes the corpus without losing covered edges.
*/

package corpus

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/kleascm/akaylee-greybox/pkg/coverage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gonum.org/v1/gonum/stat"
)

// FilePrefix is the name prefix of persisted corpus inputs
const FilePrefix = "input_"

// Entry is one retained input
type Entry struct {
	Input       int32
	Coverage    *coverage.Map
	Fitness     float64
	CreatedAt   time.Time
	Interesting bool
	// NeedsEvaluation is set for entries loaded from disk until they are re-executed
	NeedsEvaluation bool
	Signature       uint64
}

// SaveOutcome tells the caller what Save did
type SaveOutcome int

const (
	// Unchanged means the input existed with equal or higher fitness
	Unchanged SaveOutcome = iota
	// Updated means an existing entry got a strictly higher fitness
	Updated
	// Added means a new entry was created and persisted
	Added
)

// String returns the outcome name
func (o SaveOutcome) String() string {
	switch o {
	case Added:
		return "added"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Store owns all corpus entries. Callers get pointers they must not retain past Minimize or Teardown.
type Store struct {
	fs      afero.Fs
	dir     string
	rng     *rand.Rand
	logger  *logrus.Logger
	entries map[int32]*Entry
	order   []int32
	mu      sync.RWMutex
}

// NewStore creates an empty store on the given filesystem
func NewStore(fs afero.Fs, rng *rand.Rand, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		fs:      fs,
		rng:     rng,
		logger:  logger,
		entries: make(map[int32]*Entry),
	}
}

// Initialize prepares dir for persistence and clears the in-memory state
func (s *Store) Initialize(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create corpus directory %s: %w", dir, err)
	}
	s.dir = dir
	s.entries = make(map[int32]*Entry)
	s.order = nil
	return nil
}

// Dir returns the persistence directory
func (s *Store) Dir() string {
	return s.dir
}

// Save inserts or upgrades the entry for input.
// An existing entry is only replaced by a strictly fitter one.
func (s *Store) Save(input int32, snapshot *coverage.Map, fitness float64, interesting bool) (SaveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[input]; ok {
		if fitness <= e.Fitness {
			return Unchanged, nil
		}
		e.Coverage = coverage.Clone(snapshot)
		e.Fitness = fitness
		e.Interesting = e.Interesting || interesting
		e.NeedsEvaluation = false
		e.Signature = coverage.Signature(e.Coverage)
		return Updated, nil
	}

	e := &Entry{
		Input:       input,
		Coverage:    coverage.Clone(snapshot),
		Fitness:     fitness,
		CreatedAt:   time.Now(),
		Interesting: interesting,
	}
	e.Signature = coverage.Signature(e.Coverage)
	s.entries[input] = e
	s.order = append(s.order, input)

	if err := s.persist(input); err != nil {
		return Added, err
	}

	s.logger.WithFields(logrus.Fields{
		"input":       input,
		"fitness":     fitness,
		"interesting": interesting,
		"corpus_size": len(s.entries),
	}).Debug("Corpus entry added")
	return Added, nil
}

// persist writes the decimal input to its own file
func (s *Store) persist(input int32) error {
	if s.dir == "" {
		return nil
	}
	path := s.pathFor(input)
	data := []byte(strconv.FormatInt(int64(input), 10) + "\n")
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to persist corpus entry %s: %w", path, err)
	}
	return nil
}

func (s *Store) pathFor(input int32) string {
	return filepath.Join(s.dir, FilePrefix+strconv.FormatInt(int64(input), 10))
}

// Load re-creates entries from persisted files in dir.
// Loaded entries have empty coverage and are flagged for re-evaluation.
func (s *Store) Load(dir string) (int, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read corpus directory %s: %w", dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, info := range infos {
		if info.IsDir() || !strings.HasPrefix(info.Name(), FilePrefix) {
			continue
		}
		path := filepath.Join(dir, info.Name())
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			s.logger.WithFields(logrus.Fields{"file": path, "error": err}).Warn("Skipping unreadable corpus file")
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
		if err != nil {
			s.logger.WithFields(logrus.Fields{"file": path, "error": err}).Warn("Skipping malformed corpus file")
			continue
		}
		input := int32(v)
		if _, exists := s.entries[input]; exists {
			continue
		}
		e := &Entry{
			Input:           input,
			Coverage:        new(coverage.Map),
			CreatedAt:       info.ModTime(),
			NeedsEvaluation: true,
		}
		e.Signature = coverage.Signature(e.Coverage)
		s.entries[input] = e
		s.order = append(s.order, input)
		loaded++
	}

	s.logger.WithFields(logrus.Fields{
		"dir":    dir,
		"loaded": loaded,
	}).Info("Corpus loaded from disk")
	return loaded, nil
}

// MarkEvaluated records the result of re-executing a loaded entry
func (s *Store) MarkEvaluated(input int32, snapshot *coverage.Map, fitness float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[input]
	if !ok {
		return
	}
	e.Coverage = coverage.Clone(snapshot)
	e.Fitness = fitness
	e.Signature = coverage.Signature(e.Coverage)
	e.NeedsEvaluation = false
}

// MarkInteresting flags an existing entry so minimization keeps it
func (s *Store) MarkInteresting(input int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[input]; ok {
		e.Interesting = true
	}
}

// Get returns the entry for input, or nil
func (s *Store) Get(input int32) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[input]
}

// Select returns a uniformly random entry, or nil if the corpus is empty
func (s *Store) Select() *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil
	}
	return s.entries[s.order[s.rng.Intn(len(s.order))]]
}

// SelectDistinct returns a random entry whose input differs from exclude.
// Returns nil when no such entry exists.
func (s *Store) SelectDistinct(exclude int32) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if n == 0 || (n == 1 && s.order[0] == exclude) {
		return nil
	}
	for {
		input := s.order[s.rng.Intn(n)]
		if input != exclude {
			return s.entries[input]
		}
	}
}

// Size returns the number of entries
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns all entries sorted by input
func (s *Store) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Input < out[j].Input })
	return out
}

// Union returns the set of edges covered by any entry
func (s *Store) Union() *bitset.BitSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	union := bitset.New(coverage.MapSize)
	for _, e := range s.entries {
		union.InPlaceUnion(coverage.Presence(e.Coverage))
	}
	return union
}

// Minimize removes non-interesting entries whose edges are all covered by the other
// remaining entries. Smaller entries are considered first. Returns the number removed.
func (s *Store) Minimize() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*Entry, 0, len(s.entries))
	presence := make(map[int32]*bitset.BitSet, len(s.entries))
	for _, e := range s.entries {
		candidates = append(candidates, e)
		presence[e.Input] = coverage.Presence(e.Coverage)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := presence[candidates[i].Input].Count(), presence[candidates[j].Input].Count()
		if ci != cj {
			return ci < cj
		}
		return candidates[i].Input < candidates[j].Input
	})

	removed := 0
	for _, e := range candidates {
		if e.Interesting || e.NeedsEvaluation {
			continue
		}
		others := bitset.New(coverage.MapSize)
		for input, p := range presence {
			if input != e.Input {
				others.InPlaceUnion(p)
			}
		}
		if !others.IsSuperSet(presence[e.Input]) {
			continue
		}

		delete(s.entries, e.Input)
		delete(presence, e.Input)
		if s.dir != "" {
			if err := s.fs.Remove(s.pathFor(e.Input)); err != nil {
				s.logger.WithFields(logrus.Fields{"input": e.Input, "error": err}).Debug("Failed to remove corpus file")
			}
		}
		removed++
	}

	if removed > 0 {
		s.rebuildOrder()
	}
	s.logger.WithFields(logrus.Fields{
		"removed":   removed,
		"remaining": len(s.entries),
	}).Info("Corpus minimized")
	return removed
}

func (s *Store) rebuildOrder() {
	order := s.order[:0]
	for _, input := range s.order {
		if _, ok := s.entries[input]; ok {
			order = append(order, input)
		}
	}
	s.order = order
}

// AverageFitness returns the mean fitness of all entries, 0 when empty
func (s *Store) AverageFitness() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return 0
	}
	return stat.Mean(s.fitnessValues(), nil)
}

func (s *Store) fitnessValues() []float64 {
	values := make([]float64, 0, len(s.entries))
	for _, e := range s.entries {
		values = append(values, e.Fitness)
	}
	return values
}

// Stats summarizes the corpus
type Stats struct {
	Size              int
	Interesting       int
	PendingEvaluation int
	AverageFitness    float64
	FitnessStdDev     float64
	MaxFitness        float64
	UnionCoverage     int
	UniqueSignatures  int
}

// StatsSummary computes corpus statistics
func (s *Store) StatsSummary() Stats {
	union := s.Union()

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Size:          len(s.entries),
		UnionCoverage: int(union.Count()),
	}
	signatures := make(map[uint64]struct{}, len(s.entries))
	st.MaxFitness = math.Inf(-1)
	for _, e := range s.entries {
		if e.Interesting {
			st.Interesting++
		}
		if e.NeedsEvaluation {
			st.PendingEvaluation++
		}
		if e.Fitness > st.MaxFitness {
			st.MaxFitness = e.Fitness
		}
		signatures[e.Signature] = struct{}{}
	}
	st.UniqueSignatures = len(signatures)

	switch values := s.fitnessValues(); len(values) {
	case 0:
		st.MaxFitness = 0
	case 1:
		st.AverageFitness = values[0]
	default:
		st.AverageFitness, st.FitnessStdDev = stat.MeanStdDev(values, nil)
	}
	return st
}

// StatsMap returns the summary as a generic map for reporters
func (s *Store) StatsMap() map[string]interface{} {
	st := s.StatsSummary()
	return map[string]interface{}{
		"size":               st.Size,
		"interesting":        st.Interesting,
		"pending_evaluation": st.PendingEvaluation,
		"average_fitness":    st.AverageFitness,
		"fitness_stddev":     st.FitnessStdDev,
		"max_fitness":        st.MaxFitness,
		"union_coverage":     st.UnionCoverage,
		"unique_signatures":  st.UniqueSignatures,
	}
}

// Teardown releases every entry. Persisted files are kept.
func (s *Store) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[int32]*Entry)
	s.order = nil
}
