/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: population.go
Description: Generational evolutionary engine over integer inputs. Maintains a fixed-size
population, selects parents by tournament, and breeds the next generation with crossover
and mutation. Generations are double-buffered and ownership passes on replacement.
*/

package evolution

import (
	"fmt"
	"math/rand"

	"github.com/kleascm/akaylee-greybox/pkg/coverage"
	"github.com/kleascm/akaylee-greybox/pkg/strategies"
)

// Individual is one member of a population
type Individual struct {
	Input    int32
	Fitness  float64
	Coverage *coverage.Map
}

// Config holds the evolutionary parameters
type Config struct {
	PopulationSize int
	TournamentSize int
	MutationRate   float64
	CrossoverRate  float64
}

// DefaultConfig returns the standard parameters
func DefaultConfig() Config {
	return Config{
		PopulationSize: 100,
		TournamentSize: 5,
		MutationRate:   0.15,
		CrossoverRate:  0.7,
	}
}

// Validate checks the parameters
func (c Config) Validate() error {
	if c.PopulationSize < 1 {
		return fmt.Errorf("population size must be positive, got %d", c.PopulationSize)
	}
	if c.TournamentSize < 1 {
		return fmt.Errorf("tournament size must be positive, got %d", c.TournamentSize)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("mutation rate must be in [0,1], got %f", c.MutationRate)
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		return fmt.Errorf("crossover rate must be in [0,1], got %f", c.CrossoverRate)
	}
	return nil
}

// Engine breeds generations using the session random generator
type Engine struct {
	config     Config
	rng        *rand.Rand
	generation int
}

// NewEngine creates an evolutionary engine
func NewEngine(config Config, rng *rand.Rand) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid evolution config: %w", err)
	}
	return &Engine{config: config, rng: rng}, nil
}

// Config returns the engine parameters
func (e *Engine) Config() Config {
	return e.config
}

// Generation returns the number of generations bred so far
func (e *Engine) Generation() int {
	return e.generation
}

// InitializePopulation creates size individuals with zero inputs, zero fitness and empty maps
func InitializePopulation(size int) []Individual {
	pop := make([]Individual, size)
	for i := range pop {
		pop[i].Coverage = new(coverage.Map)
	}
	return pop
}

// SeedUniform assigns every individual a uniformly random input in [min, max]
func (e *Engine) SeedUniform(pop []Individual, min, max int32) {
	for i := range pop {
		pop[i].Input = RandomInRange(e.rng, min, max)
		pop[i].Fitness = 0
		coverage.Reset(pop[i].Coverage)
	}
}

// RandomInRange draws uniformly from [min, max]
func RandomInRange(rng *rand.Rand, min, max int32) int32 {
	if max <= min {
		return min
	}
	span := int64(max) - int64(min) + 1
	return int32(int64(min) + rng.Int63n(span))
}

// SelectParent runs a tournament of TournamentSize draws with replacement.
// The fittest entrant wins and ties go to the one drawn first.
func (e *Engine) SelectParent(pop []Individual) *Individual {
	if len(pop) == 0 {
		return nil
	}
	best := &pop[e.rng.Intn(len(pop))]
	for i := 1; i < e.config.TournamentSize; i++ {
		c := &pop[e.rng.Intn(len(pop))]
		if c.Fitness > best.Fitness {
			best = c
		}
	}
	return best
}

// GenerateNextGeneration fills next from pop. Each child is clamped to [min, max],
// has zero fitness and a cleared coverage map of its own.
func (e *Engine) GenerateNextGeneration(pop, next []Individual, min, max int32) {
	if len(pop) == 0 {
		return
	}
	for i := range next {
		p1 := e.SelectParent(pop)
		var child int32
		switch {
		case len(pop) >= 2 && e.rng.Float64() < e.config.CrossoverRate:
			p2 := e.SelectParent(pop)
			child = strategies.Crossover(e.rng, p1.Input, p2.Input)
		case e.rng.Float64() < e.config.MutationRate:
			child = strategies.MutateInteger(e.rng, p1.Input, min, max)
		default:
			child = p1.Input
		}

		next[i].Input = strategies.Clamp(child, min, max)
		next[i].Fitness = 0
		if next[i].Coverage == nil {
			next[i].Coverage = new(coverage.Map)
		} else {
			coverage.Reset(next[i].Coverage)
		}
	}
	e.generation++
}

// Replace hands the new generation over as the current population.
// The old generation is returned as the buffer for the next transition.
func Replace(pop, next []Individual) (current, spare []Individual) {
	return next, pop
}

// Best returns the fittest individual, first-seen on ties
func Best(pop []Individual) *Individual {
	if len(pop) == 0 {
		return nil
	}
	best := &pop[0]
	for i := 1; i < len(pop); i++ {
		if pop[i].Fitness > best.Fitness {
			best = &pop[i]
		}
	}
	return best
}
