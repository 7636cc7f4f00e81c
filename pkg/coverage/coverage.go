/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: coverage.go
Description: Edge coverage bitmap model shared between the fuzzer and instrumented targets.
Provides the fixed-size Map type, AFL-style edge hashing with saturating hit counters,
novelty detection against the global map, merging, and the fitness function used by
the corpus and the evolutionary engine.
*/

package coverage

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// MapSize is the number of edge slots in a coverage map
const MapSize = 1 << 16

// NewEdgeWeight is the fitness bonus awarded per newly discovered edge
const NewEdgeWeight = 10

// Map is a fixed-size edge hit-count bitmap.
// Each slot is a saturating counter in [0, 255].
type Map [MapSize]byte

// Collector is anything that exposes the map an instrumented target writes into
type Collector interface {
	// Reset zeroes the map before an execution
	Reset()
	// Map returns the live map, or nil once the collector is torn down
	Map() *Map
}

var zeroMap Map

func orZero(m *Map) *Map {
	if m == nil {
		return &zeroMap
	}
	return m
}

// Reset zeroes every slot of the map
func Reset(m *Map) {
	if m == nil {
		return
	}
	clear(m[:])
}

// Clone returns a deep copy of the map. A nil map clones to an empty one.
func Clone(m *Map) *Map {
	c := new(Map)
	if m != nil {
		*c = *m
	}
	return c
}

// EdgeIndex hashes a (from, to) location pair into a map slot
func EdgeIndex(from, to uint32) uint32 {
	return (from ^ to) % MapSize
}

// RecordEdge increments the counter of the edge between two locations, saturating at 255
func RecordEdge(m *Map, from, to uint32) {
	if m == nil {
		return
	}
	idx := EdgeIndex(from, to)
	if m[idx] < 255 {
		m[idx]++
	}
}

// EdgeTracer records edges from a stream of guard indices.
// It mirrors what the instrumented runtime does inside the target.
type EdgeTracer struct {
	prev uint32
}

// RecordGuard records the edge from the previous guard to this one
func (t *EdgeTracer) RecordGuard(m *Map, guard uint32) {
	RecordEdge(m, guard, t.prev)
	t.prev = guard >> 1
}

// Reset forgets the previous location
func (t *EdgeTracer) Reset() {
	t.prev = 0
}

// HasNewCoverage reports whether the candidate hits any edge the global map has not seen
func HasNewCoverage(candidate, global *Map) bool {
	c, g := orZero(candidate), orZero(global)
	for i := range c {
		if c[i] > 0 && g[i] == 0 {
			return true
		}
	}
	return false
}

// MergeInto marks every edge hit by the candidate as seen in the global map.
// Returns the number of edges that were not seen before.
func MergeInto(global, candidate *Map) int {
	if global == nil {
		return 0
	}
	c := orZero(candidate)
	added := 0
	for i := range c {
		if c[i] > 0 {
			if global[i] == 0 {
				added++
			}
			global[i] = 1
		}
	}
	return added
}

// CountCovered returns the number of non-zero slots
func CountCovered(m *Map) int {
	n := 0
	for _, v := range orZero(m) {
		if v > 0 {
			n++
		}
	}
	return n
}

// NewEdgeCount returns how many slots are hit by the candidate but not by the global map
func NewEdgeCount(candidate, global *Map) int {
	c, g := orZero(candidate), orZero(global)
	n := 0
	for i := range c {
		if c[i] > 0 && g[i] == 0 {
			n++
		}
	}
	return n
}

// Fitness scores a candidate as covered edges plus a weighted bonus for new edges
func Fitness(candidate, global *Map) float64 {
	return float64(CountCovered(candidate) + NewEdgeWeight*NewEdgeCount(candidate, global))
}

// Density returns the fraction of slots covered
func Density(m *Map) float64 {
	return float64(CountCovered(m)) / float64(MapSize)
}

// Presence returns the set of covered slots
func Presence(m *Map) *bitset.BitSet {
	b := bitset.New(MapSize)
	for i, v := range orZero(m) {
		if v > 0 {
			b.Set(uint(i))
		}
	}
	return b
}

// Signature hashes which slots are covered, ignoring hit counts.
// Two inputs with the same signature exercised the same edges.
func Signature(m *Map) uint64 {
	var presence [MapSize / 8]byte
	for i, v := range orZero(m) {
		if v > 0 {
			presence[i>>3] |= 1 << (i & 7)
		}
	}
	return xxhash.Sum64(presence[:])
}

// Summary returns a one-line human readable description of the map
func Summary(m *Map) string {
	covered := CountCovered(m)
	return fmt.Sprintf("%d of %d potential edges covered (%.2f%% density)",
		covered, MapSize, 100*float64(covered)/float64(MapSize))
}
