/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: mutators.go
Description: Integer mutation strategies for the greybox fuzzer. Implements bit flipping,
byte flipping, bounded arithmetic, and magic-value dictionary mutations over 32-bit signed
inputs. All randomness comes from the caller's session generator.
*/

package strategies

import (
	"math"
	"math/rand"
)

// Mutator transforms one integer input into another
type Mutator interface {
	// Mutate returns a mutated copy of v
	Mutate(rng *rand.Rand, v int32) int32
	// Name returns the mutator name
	Name() string
	// Description returns a short human readable description
	Description() string
}

// MagicValues are boundary and pattern values that commonly trip comparisons in targets.
// Aliases such as 0x7FFFFFFF and INT32_MAX are kept on purpose so they are drawn more often.
var MagicValues = []int32{
	0,
	-1,
	1,
	math.MaxInt32,
	math.MinInt32,
	0x7FFFFFFF,
	-0x80000000, // 0x80000000
	-1,          // 0xFFFFFFFF
	0x41414141,
	-0x21524111, // 0xDEADBEEF
	0xC0FFEE,
}

// BitFlipMutator flips one random bit
type BitFlipMutator struct{}

// NewBitFlipMutator creates a new bit flip mutator
func NewBitFlipMutator() *BitFlipMutator {
	return &BitFlipMutator{}
}

// Mutate flips one of the 32 bits
func (m *BitFlipMutator) Mutate(rng *rand.Rand, v int32) int32 {
	return int32(uint32(v) ^ (1 << uint(rng.Intn(32))))
}

// Name returns the name of this mutator
func (m *BitFlipMutator) Name() string {
	return "BitFlipMutator"
}

// Description returns a description of this mutator
func (m *BitFlipMutator) Description() string {
	return "Flips a single random bit of the input"
}

// ByteFlipMutator inverts one random byte
type ByteFlipMutator struct{}

// NewByteFlipMutator creates a new byte flip mutator
func NewByteFlipMutator() *ByteFlipMutator {
	return &ByteFlipMutator{}
}

// Mutate XORs 0xFF into one of the four bytes
func (m *ByteFlipMutator) Mutate(rng *rand.Rand, v int32) int32 {
	shift := uint(8 * rng.Intn(4))
	return int32(uint32(v) ^ (0xFF << shift))
}

// Name returns the name of this mutator
func (m *ByteFlipMutator) Name() string {
	return "ByteFlipMutator"
}

// Description returns a description of this mutator
func (m *ByteFlipMutator) Description() string {
	return "Inverts one random byte of the input"
}

// ArithmeticMutator applies a small random arithmetic operation.
// Overflow wraps in two's complement.
type ArithmeticMutator struct {
	maxDelta   int32
	maxFactor  int32
	maxDivisor int32
}

// NewArithmeticMutator creates a mutator that adds or subtracts up to 100,
// multiplies by up to 5, or divides by up to 10
func NewArithmeticMutator() *ArithmeticMutator {
	return &ArithmeticMutator{
		maxDelta:   100,
		maxFactor:  5,
		maxDivisor: 10,
	}
}

// Mutate applies one of add, subtract, multiply or divide
func (m *ArithmeticMutator) Mutate(rng *rand.Rand, v int32) int32 {
	switch rng.Intn(4) {
	case 0:
		return v + 1 + rng.Int31n(m.maxDelta)
	case 1:
		return v - (1 + rng.Int31n(m.maxDelta))
	case 2:
		return v * (1 + rng.Int31n(m.maxFactor))
	default:
		return v / (1 + rng.Int31n(m.maxDivisor))
	}
}

// Name returns the name of this mutator
func (m *ArithmeticMutator) Name() string {
	return "ArithmeticMutator"
}

// Description returns a description of this mutator
func (m *ArithmeticMutator) Description() string {
	return "Adds, subtracts, multiplies or divides the input by a small random amount"
}

// DictionaryMutator injects magic values
type DictionaryMutator struct {
	values []int32
}

// NewDictionaryMutator creates a dictionary mutator over MagicValues
func NewDictionaryMutator() *DictionaryMutator {
	return &DictionaryMutator{values: MagicValues}
}

// Mutate replaces the input with a magic value or ORs one into it, with equal chance
func (m *DictionaryMutator) Mutate(rng *rand.Rand, v int32) int32 {
	magic := m.values[rng.Intn(len(m.values))]
	if rng.Intn(2) == 0 {
		return magic
	}
	return v | magic
}

// Name returns the name of this mutator
func (m *DictionaryMutator) Name() string {
	return "DictionaryMutator"
}

// Description returns a description of this mutator
func (m *DictionaryMutator) Description() string {
	return "Replaces the input with, or ORs in, a boundary or pattern value"
}

// Clamp restricts v to [min, max]
func Clamp(v, min, max int32) int32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// basicMutators returns the four single-step operators
func basicMutators() []Mutator {
	return []Mutator{
		NewBitFlipMutator(),
		NewByteFlipMutator(),
		NewArithmeticMutator(),
		NewDictionaryMutator(),
	}
}

var integerMutators = append(basicMutators(), NewHavocMutator())

// MutateInteger applies one of the five strategies chosen uniformly and clamps the result
func MutateInteger(rng *rand.Rand, v, min, max int32) int32 {
	m := integerMutators[rng.Intn(len(integerMutators))]
	return Clamp(m.Mutate(rng, v), min, max)
}

// Registry returns every available mutator, in selection order
func Registry() []Mutator {
	out := make([]Mutator, len(integerMutators))
	copy(out, integerMutators)
	return out
}
