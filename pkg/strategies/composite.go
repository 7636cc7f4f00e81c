/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: composite.go
Description: Havoc mutator. Chains a random number of basic integer mutators in random
order for large jumps through the input space.
*/

package strategies

import (
	"math/rand"
)

// HavocMutator applies between 1 and maxChain random basic mutators in sequence
type HavocMutator struct {
	mutators []Mutator
	maxChain int
}

// NewHavocMutator creates a havoc mutator chaining 1 to 5 basic operators
func NewHavocMutator() *HavocMutator {
	return NewCompositeMutator(basicMutators(), 5)
}

// NewCompositeMutator creates a havoc style mutator over an arbitrary operator set.
// maxChain <= 0 means one step per available mutator.
func NewCompositeMutator(mutators []Mutator, maxChain int) *HavocMutator {
	if maxChain <= 0 {
		maxChain = len(mutators)
	}
	return &HavocMutator{
		mutators: mutators,
		maxChain: maxChain,
	}
}

// Mutate applies the chain. With no mutators the input is returned unchanged.
func (h *HavocMutator) Mutate(rng *rand.Rand, v int32) int32 {
	if len(h.mutators) == 0 {
		return v
	}
	steps := 1 + rng.Intn(h.maxChain)
	for i := 0; i < steps; i++ {
		v = h.mutators[rng.Intn(len(h.mutators))].Mutate(rng, v)
	}
	return v
}

// Name returns the name of this mutator
func (h *HavocMutator) Name() string {
	return "HavocMutator"
}

// Description returns a description of this mutator
func (h *HavocMutator) Description() string {
	return "Chains 1-5 random bit, byte, arithmetic and dictionary mutations"
}
