/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: crossover.go
Description: Bitwise crossover operators for 32-bit integer inputs. Children only ever
contain bits taken from one of the two parents at the same position.
*/

package strategies

import (
	"math/rand"
)

// lowMask returns a mask with the low n bits set, for n in [0, 32]
func lowMask(n uint) uint32 {
	if n >= 32 {
		return 0xFFFFFFFF
	}
	return (1 << n) - 1
}

// SinglePointAt takes bits below point from p1 and the rest from p2
func SinglePointAt(p1, p2 int32, point uint) int32 {
	mask := lowMask(point)
	return int32((uint32(p1) & mask) | (uint32(p2) &^ mask))
}

// TwoPointAt takes bits in [min(a,b), max(a,b)) from p1 and the rest from p2
func TwoPointAt(p1, p2 int32, a, b uint) int32 {
	if a > b {
		a, b = b, a
	}
	mask := lowMask(b) ^ lowMask(a)
	return int32((uint32(p1) & mask) | (uint32(p2) &^ mask))
}

// UniformWith takes each bit from p1 where choose has a 1 and from p2 elsewhere
func UniformWith(p1, p2 int32, choose uint32) int32 {
	return int32((uint32(p1) & choose) | (uint32(p2) &^ choose))
}

// SinglePoint performs single-point crossover at a random bit in [0, 32)
func SinglePoint(rng *rand.Rand, p1, p2 int32) int32 {
	return SinglePointAt(p1, p2, uint(rng.Intn(32)))
}

// TwoPoint performs two-point crossover at two random bits
func TwoPoint(rng *rand.Rand, p1, p2 int32) int32 {
	return TwoPointAt(p1, p2, uint(rng.Intn(32)), uint(rng.Intn(32)))
}

// Uniform picks every bit from either parent with equal chance
func Uniform(rng *rand.Rand, p1, p2 int32) int32 {
	return UniformWith(p1, p2, rng.Uint32())
}

// Crossover applies one of the three operators chosen uniformly
func Crossover(rng *rand.Rand, p1, p2 int32) int32 {
	switch rng.Intn(3) {
	case 0:
		return SinglePoint(rng, p1, p2)
	case 1:
		return TwoPoint(rng, p1, p2)
	default:
		return Uniform(rng, p1, p2)
	}
}
