/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: range.go
Description: Derives an input range from a target's source by scanning the integer
literals it compares against. The range is widened by one on each side so the
boundary values themselves are reachable.
*/

package target

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/spf13/afero"
)

// Range is the result of scanning a source file
type Range struct {
	Min   int32
	Max   int32
	Count int  // Number of comparison literals found
	Valid bool // False when nothing was found; Min and Max then span all of int32
}

var (
	// operator followed by a literal: x == 5, x < -3
	rhsLiteral = regexp.MustCompile(`(?:==|!=|<=|>=|<|>)\s*(-?\s*(?:0[xX][0-9a-fA-F]+|\d+))`)
	// literal followed by an operator: 5 == x
	lhsLiteral = regexp.MustCompile(`(?:^|[^\w.])(-?\s*(?:0[xX][0-9a-fA-F]+|\d+))\s*(?:==|!=|<=|>=|<[^<]|>[^>])`)
	spaces     = regexp.MustCompile(`\s+`)
)

// FullRange spans every int32
func FullRange() Range {
	return Range{Min: math.MinInt32, Max: math.MaxInt32}
}

// ScanRange reads path from fs and returns the range of compared literals
func ScanRange(fs afero.Fs, path string) (Range, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return FullRange(), fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseRange(string(data)), nil
}

// ParseRange scans source text for comparison literals
func ParseRange(source string) Range {
	r := FullRange()
	lo, hi := int64(math.MaxInt64), int64(math.MinInt64)

	for _, re := range []*regexp.Regexp{rhsLiteral, lhsLiteral} {
		for _, m := range re.FindAllStringSubmatch(source, -1) {
			v, err := strconv.ParseInt(spaces.ReplaceAllString(m[1], ""), 0, 64)
			if err != nil || v < math.MinInt32 || v > math.MaxInt32 {
				continue
			}
			r.Count++
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if r.Count == 0 {
		return r
	}

	r.Min = int32(max(lo-1, math.MinInt32))
	r.Max = int32(min(hi+1, math.MaxInt32))
	r.Valid = true
	return r
}
