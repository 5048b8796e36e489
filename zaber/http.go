package zaber

import (
	"context"
	"fmt"
	"sort"

	"github.com/nasa-jpl/beamprof/motion"
)

// Controller groups named axes for the HTTP interface, which addresses axes by
// string and carries no context.  Positions and velocities are in Unit.
type Controller struct {
	Axes map[string]*Axis
	Unit motion.Unit
}

// NewController returns a controller over the named axes, in unit
func NewController(unit motion.Unit, axes map[string]*Axis) *Controller {
	return &Controller{Axes: axes, Unit: unit}
}

// Names returns the axis names in sorted order
func (c *Controller) Names() []string {
	out := make([]string, 0, len(c.Axes))
	for k := range c.Axes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Controller) axis(name string) (*Axis, error) {
	a, ok := c.Axes[name]
	if !ok {
		return nil, fmt.Errorf("axis %q: %w", name, ErrDeviceNotFound)
	}
	return a, nil
}

// GetPos returns the position of an axis
func (c *Controller) GetPos(axis string) (float64, error) {
	a, err := c.axis(axis)
	if err != nil {
		return 0, err
	}
	return a.GetPos(context.Background(), c.Unit)
}

// MoveAbs moves an axis to an absolute position and waits for it
func (c *Controller) MoveAbs(axis string, pos float64) error {
	a, err := c.axis(axis)
	if err != nil {
		return err
	}
	return a.MoveAbs(context.Background(), pos, c.Unit)
}

// MoveRel moves an axis a relative distance and waits for it
func (c *Controller) MoveRel(axis string, dist float64) error {
	a, err := c.axis(axis)
	if err != nil {
		return err
	}
	return a.MoveRel(context.Background(), dist, c.Unit)
}

// Home homes an axis
func (c *Controller) Home(axis string) error {
	a, err := c.axis(axis)
	if err != nil {
		return err
	}
	return a.Home(context.Background())
}

// Stop stops an axis
func (c *Controller) Stop(axis string) error {
	a, err := c.axis(axis)
	if err != nil {
		return err
	}
	return a.Stop(context.Background())
}

// IsHomed reports if an axis is referenced
func (c *Controller) IsHomed(axis string) (bool, error) {
	a, err := c.axis(axis)
	if err != nil {
		return false, err
	}
	return a.IsHomed(context.Background())
}

// GetVelocity returns the speed limit of an axis, Unit per second
func (c *Controller) GetVelocity(axis string) (float64, error) {
	a, err := c.axis(axis)
	if err != nil {
		return 0, err
	}
	return a.GetVelocity(context.Background(), c.Unit)
}

// SetVelocity sets the speed limit of an axis, Unit per second
func (c *Controller) SetVelocity(axis string, v float64) error {
	a, err := c.axis(axis)
	if err != nil {
		return err
	}
	return a.SetVelocity(context.Background(), v, c.Unit)
}
