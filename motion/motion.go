// Package motion contains abstract interfaces for unit-aware linear stages
// and the length units they are commanded in.
package motion

import (
	"context"
	"fmt"
	"strings"
)

// Unit is a length unit
type Unit string

const (
	// Nanometer is 1e-9 m
	Nanometer Unit = "nm"

	// Micrometer is 1e-6 m
	Micrometer Unit = "um"

	// Millimeter is 1e-3 m
	Millimeter Unit = "mm"

	// Meter is the SI base unit
	Meter Unit = "m"

	// Native is the controller's own unit (e.g. microsteps); it is never converted
	Native Unit = "native"
)

var toMeters = map[Unit]float64{
	Nanometer:  1e-9,
	Micrometer: 1e-6,
	Millimeter: 1e-3,
	Meter:      1,
}

// ParseUnit converts a string like "um", "µm" or "mm" to a Unit
func ParseUnit(s string) (Unit, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "nm":
		return Nanometer, nil
	case "um", "µm", "micron", "microns":
		return Micrometer, nil
	case "mm":
		return Millimeter, nil
	case "m":
		return Meter, nil
	case "native", "":
		return Native, nil
	}
	return "", fmt.Errorf("motion: unknown length unit %q", s)
}

// Convert converts x from one unit to another.  Native units are only
// convertible to themselves.
func Convert(x float64, from, to Unit) (float64, error) {
	if from == to {
		return x, nil
	}
	f, ok1 := toMeters[from]
	t, ok2 := toMeters[to]
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("motion: cannot convert %s to %s", from, to)
	}
	return x * f / t, nil
}

// Referencer can report whether an axis has a reference (home) position
type Referencer interface {
	// IsHomed returns true if the axis has been homed since power on
	IsHomed(context.Context) (bool, error)
}

// Mover moves an axis.  Both methods block until the axis reports arrival,
// the context expires, or the controller reports an error.
type Mover interface {
	// MoveAbs moves to an absolute position
	MoveAbs(ctx context.Context, pos float64, unit Unit) error

	// MoveRel moves a relative distance
	MoveRel(ctx context.Context, dist float64, unit Unit) error
}

// Positioner reports where an axis is
type Positioner interface {
	// GetPos returns the current position
	GetPos(ctx context.Context, unit Unit) (float64, error)
}

// Homer homes an axis, blocking until it completes
type Homer interface {
	Home(context.Context) error
}

// Stage is a single linear axis with all of the above
type Stage interface {
	Referencer
	Mover
	Positioner
	Homer
}
