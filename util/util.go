// Package util contains misc internal utilities.
package util

import (
	"math"
	"strings"
	"time"
)

// Limiter holds software limits for an axis, in the axis' working unit.
// The zero value imposes no limits.
type Limiter struct {
	Min float64 `yaml:"Min" koanf:"Min"`
	Max float64 `yaml:"Max" koanf:"Max"`
}

// Check returns true if x is within the limits
func (l Limiter) Check(x float64) bool {
	if l.Min == 0 && l.Max == 0 {
		return true
	}
	return x >= l.Min && x <= l.Max
}

// Clamp limits x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	return math.Max(low, math.Min(x, high))
}

// ClampInt limits x to the range [low, high]
func ClampInt(x, low, high int) int {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// Arange mirrors numpy's arange for floats: start, start+step, ... while
// strictly before stop.  A step whose sign disagrees with stop-start produces
// an empty slice, as does a zero step.
func Arange(start, stop, step float64) []float64 {
	if step == 0 {
		return nil
	}
	// a sliver of tolerance keeps (50000-40000)/500 from becoming 20.0000001
	n := int(math.Ceil((stop-start)/step - 1e-9))
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Linspace returns n evenly spaced samples over [start, stop], inclusive.
// n == 1 yields just start.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// AllElementsNumbers returns true if every rune in s is a digit or a decimal point
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	return strings.Trim(s, "0123456789.") == ""
}
