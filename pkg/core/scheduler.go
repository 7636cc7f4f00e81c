/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: scheduler.go
Description: Candidate source scheduling for greybox sessions. Each iteration the engine
asks the scheduler whether to derive the next input from the corpus or from the
evolutionary population, and which corpus operator to apply.
*/

package core

import (
	"math/rand"
)

// Source is where the next candidate input comes from
type Source int

const (
	// SourceCorpus mutates or recombines corpus entries
	SourceCorpus Source = iota
	// SourcePopulation breeds a new generation and runs one of its members
	SourcePopulation
)

// String returns the source name
func (s Source) String() string {
	if s == SourceCorpus {
		return "corpus"
	}
	return "population"
}

// CorpusOp is the operator used on the corpus path
type CorpusOp int

const (
	// OpHavoc applies havoc mutation to one entry
	OpHavoc CorpusOp = iota
	// OpCrossover recombines two distinct entries
	OpCrossover
)

// Scheduler picks the candidate source for each iteration.
// Allows the engine to swap selection strategies.
type Scheduler interface {
	// Next returns the source for this iteration given the current corpus size
	Next(corpusSize int) Source
	// CorpusOp returns the operator for the corpus path
	CorpusOp(corpusSize int) CorpusOp
}

// CoinFlipScheduler picks the corpus with a fixed probability whenever it is non-empty
type CoinFlipScheduler struct {
	rng               *rand.Rand
	corpusProbability float64
	havocProbability  float64
}

// NewCoinFlipScheduler creates a scheduler drawing from the session generator
func NewCoinFlipScheduler(rng *rand.Rand, corpusProbability, havocProbability float64) *CoinFlipScheduler {
	return &CoinFlipScheduler{
		rng:               rng,
		corpusProbability: corpusProbability,
		havocProbability:  havocProbability,
	}
}

// Next returns SourceCorpus with the configured probability, or always SourcePopulation on an empty corpus
func (s *CoinFlipScheduler) Next(corpusSize int) Source {
	if corpusSize > 0 && s.rng.Float64() < s.corpusProbability {
		return SourceCorpus
	}
	return SourcePopulation
}

// CorpusOp picks havoc with the configured probability. Crossover needs two entries.
func (s *CoinFlipScheduler) CorpusOp(corpusSize int) CorpusOp {
	if corpusSize < 2 || s.rng.Float64() < s.havocProbability {
		return OpHavoc
	}
	return OpCrossover
}
