// Package microscope coordinates the Zaber devices of a motorized microscope:
// focus axis, XY plate, objective turret, filter changer, and illuminator.
package microscope

import (
	"context"
	"fmt"
	"math"

	"github.com/nasa-jpl/beamprof/motion"
	"github.com/nasa-jpl/beamprof/zaber"
)

// AxisAddress is a device address and an axis number on it, both from 1
type AxisAddress struct {
	Device int `koanf:"Device" yaml:"Device"`
	Axis   int `koanf:"Axis" yaml:"Axis"`
}

// Objective describes one position of the objective turret
type Objective struct {
	Magnification float64 `koanf:"Magnification" yaml:"Magnification"`

	// OffsetUm is the focus offset from the datum for this objective, um
	OffsetUm float64 `koanf:"OffsetUm" yaml:"OffsetUm"`
}

// Config holds the addresses of the devices.  A zero address means the
// device is absent.
type Config struct {
	Illuminator      int         `koanf:"Illuminator" yaml:"Illuminator"`
	FocusAxis        AxisAddress `koanf:"FocusAxis" yaml:"FocusAxis"`
	FilterChanger    int         `koanf:"FilterChanger" yaml:"FilterChanger"`
	ObjectiveChanger int         `koanf:"ObjectiveChanger" yaml:"ObjectiveChanger"`
	XAxis            AxisAddress `koanf:"XAxis" yaml:"XAxis"`
	YAxis            AxisAddress `koanf:"YAxis" yaml:"YAxis"`

	// Objectives maps turret index to objective
	Objectives map[int]Objective `koanf:"Objectives" yaml:"Objectives"`

	// FocusDatumMM is the focus position offsets are measured from, mm
	FocusDatumMM float64 `koanf:"FocusDatumMM" yaml:"FocusDatumMM"`
}

// DefaultObjectives is a four objective turret
func DefaultObjectives() map[int]Objective {
	return map[int]Objective{
		1: {Magnification: 20, OffsetUm: 5},
		2: {Magnification: 5, OffsetUm: -5},
		3: {Magnification: 10, OffsetUm: 10},
		4: {Magnification: 1, OffsetUm: 100},
	}
}

// MSRConfig is the factory layout of an inverted microscope with an
// objective turret
func MSRConfig() Config {
	return Config{
		Illuminator:      2,
		FocusAxis:        AxisAddress{3, 1},
		FilterChanger:    4,
		ObjectiveChanger: 5,
		XAxis:            AxisAddress{6, 1},
		YAxis:            AxisAddress{6, 2},
		Objectives:       DefaultObjectives(),
		FocusDatumMM:     15,
	}
}

// MVRConfig is the factory layout of an upright microscope, which has no
// objective turret
func MVRConfig() Config {
	return Config{
		Illuminator:   2,
		FocusAxis:     AxisAddress{3, 1},
		FilterChanger: 4,
		XAxis:         AxisAddress{5, 1},
		YAxis:         AxisAddress{5, 2},
		Objectives:    DefaultObjectives(),
		FocusDatumMM:  15,
	}
}

// Microscope is the set of devices of one microscope.  Components whose
// address is zero in the config are nil.
type Microscope struct {
	conn   *zaber.Connection
	Config Config

	Focus  *zaber.Axis
	X, Y   *zaber.Axis
	Plate  *Plate
	Filter *FilterChanger
	Turret *ObjectiveChanger
}

func axisAt(c *zaber.Connection, a AxisAddress) *zaber.Axis {
	if a.Device == 0 {
		return nil
	}
	return zaber.NewAxis(c, a.Device, a.Axis)
}

// New returns a microscope on conn.  No commands are sent.
func New(conn *zaber.Connection, cfg Config) *Microscope {
	m := &Microscope{conn: conn, Config: cfg}
	m.Focus = axisAt(conn, cfg.FocusAxis)
	m.X = axisAt(conn, cfg.XAxis)
	m.Y = axisAt(conn, cfg.YAxis)
	if m.X != nil && m.Y != nil {
		m.Plate = &Plate{X: m.X, Y: m.Y}
	}
	if cfg.FilterChanger != 0 {
		m.Filter = &FilterChanger{Axis: zaber.NewAxis(conn, cfg.FilterChanger, 1)}
	}
	if cfg.ObjectiveChanger != 0 && m.Focus != nil {
		m.Turret = &ObjectiveChanger{
			Turret:     zaber.NewAxis(conn, cfg.ObjectiveChanger, 1),
			Focus:      m.Focus,
			Objectives: cfg.Objectives,
			DatumUm:    cfg.FocusDatumMM * 1000,
		}
	}
	return m
}

// addresses lists every configured device address
func (m *Microscope) addresses() []int {
	c := m.Config
	all := []int{c.Illuminator, c.FocusAxis.Device, c.FilterChanger, c.ObjectiveChanger, c.XAxis.Device, c.YAxis.Device}
	out := all[:0]
	for _, a := range all {
		if a != 0 {
			out = append(out, a)
		}
	}
	return out
}

// axes lists every axis which can be homed
func (m *Microscope) axes() []*zaber.Axis {
	var out []*zaber.Axis
	for _, a := range []*zaber.Axis{m.Focus, m.X, m.Y} {
		if a != nil {
			out = append(out, a)
		}
	}
	if m.Filter != nil {
		out = append(out, m.Filter.Axis)
	}
	if m.Turret != nil {
		out = append(out, m.Turret.Turret)
	}
	return out
}

// Initialize checks every configured device is on the chain, then homes
// every axis which is not yet homed.  The focus axis is homed first so the
// objective is clear of the sample when the plate and turret move.
func (m *Microscope) Initialize(ctx context.Context) error {
	devs, err := m.conn.DetectDevices()
	if err != nil {
		return err
	}
	for _, addr := range m.addresses() {
		if _, err := zaber.Select(devs, zaber.AddressIs(addr)); err != nil {
			return fmt.Errorf("microscope: device %d: %w", addr, err)
		}
	}
	for _, ax := range m.axes() {
		homed, err := ax.IsHomed(ctx)
		if err != nil {
			return err
		}
		if homed {
			continue
		}
		if err = ax.Home(ctx); err != nil {
			return fmt.Errorf("microscope: homing device %d axis %d: %w", ax.Device, ax.Number, err)
		}
	}
	return nil
}

// Plate is the XY stage
type Plate struct {
	X, Y *zaber.Axis
}

// both starts a command on both axes, then waits for both
func (p *Plate) both(ctx context.Context, cx, cy string) error {
	if err := p.X.ClearWarnings(); err != nil {
		return err
	}
	if err := p.Y.ClearWarnings(); err != nil {
		return err
	}
	if err := p.X.Start(cx); err != nil {
		return err
	}
	if err := p.Y.Start(cy); err != nil {
		return err
	}
	if err := p.X.WaitIdle(ctx); err != nil {
		return err
	}
	return p.Y.WaitIdle(ctx)
}

// MoveAbs moves both axes at once
func (p *Plate) MoveAbs(ctx context.Context, x, y float64, unit motion.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.X.ClearWarnings(); err != nil {
		return err
	}
	if err := p.Y.ClearWarnings(); err != nil {
		return err
	}
	if err := p.X.StartMoveAbs(x, unit); err != nil {
		return err
	}
	if err := p.Y.StartMoveAbs(y, unit); err != nil {
		return err
	}
	if err := p.X.WaitIdle(ctx); err != nil {
		return err
	}
	return p.Y.WaitIdle(ctx)
}

// MoveMin sends both axes to the lower end of travel
func (p *Plate) MoveMin(ctx context.Context) error {
	return p.both(ctx, "move min", "move min")
}

// MoveMax sends both axes to the upper end of travel
func (p *Plate) MoveMax(ctx context.Context) error {
	return p.both(ctx, "move max", "move max")
}

// FilterChanger is a filter cube turret
type FilterChanger struct {
	Axis *zaber.Axis
}

// Change moves to filter idx, from 1
func (f *FilterChanger) Change(ctx context.Context, idx int) error {
	return f.Axis.MoveIndex(ctx, idx)
}

// Current returns the current filter, 0 if between positions
func (f *FilterChanger) Current(ctx context.Context) (int, error) {
	return f.Axis.GetIndex(ctx)
}

// ObjectiveChanger swaps objectives, retracting the focus axis while the
// turret turns
type ObjectiveChanger struct {
	Turret *zaber.Axis
	Focus  *zaber.Axis

	Objectives map[int]Objective

	// DatumUm is the focus position after a change, before the objective's offset
	DatumUm float64
}

// SetFocusDatum sets the focus position objective offsets are measured from
func (o *ObjectiveChanger) SetFocusDatum(pos float64, unit motion.Unit) error {
	um, err := motion.Convert(pos, unit, motion.Micrometer)
	if err != nil {
		return err
	}
	o.DatumUm = um
	return nil
}

// FocusDatum returns the datum in unit
func (o *ObjectiveChanger) FocusDatum(unit motion.Unit) (float64, error) {
	return motion.Convert(o.DatumUm, motion.Micrometer, unit)
}

// Release retracts the focus axis to the bottom of its travel
func (o *ObjectiveChanger) Release(ctx context.Context) error {
	return o.Focus.MoveMin(ctx)
}

// Change retracts the focus, turns to objective idx, and returns the focus to
// the datum plus offset
func (o *ObjectiveChanger) Change(ctx context.Context, idx int, offset float64, unit motion.Unit) error {
	off, err := motion.Convert(offset, unit, motion.Micrometer)
	if err != nil {
		return err
	}
	if err = o.Release(ctx); err != nil {
		return err
	}
	if err = o.Turret.MoveIndex(ctx, idx); err != nil {
		return err
	}
	return o.Focus.MoveAbs(ctx, o.DatumUm+off, motion.Micrometer)
}

// Current returns the current objective, 0 if between positions
func (o *ObjectiveChanger) Current(ctx context.Context) (int, error) {
	return o.Turret.GetIndex(ctx)
}

// CurrentObjective looks up the objective in place
func (o *ObjectiveChanger) CurrentObjective(ctx context.Context) (Objective, error) {
	idx, err := o.Current(ctx)
	if err != nil {
		return Objective{}, err
	}
	obj, ok := o.Objectives[idx]
	if !ok {
		return Objective{}, fmt.Errorf("microscope: no objective configured at turret position %d", idx)
	}
	return obj, nil
}

// SnakeScan steps the plate over an nx by ny raster, stepover apart, starting
// with a step in X.  Each column is swept in Y in the opposite direction of
// the previous one.  visit, if not nil, is called after every Y step with the
// column and row.
func (m *Microscope) SnakeScan(ctx context.Context, nx, ny int, stepover float64, unit motion.Unit, visit func(i, j int) error) error {
	for i := 0; i < nx; i++ {
		if err := m.X.MoveRel(ctx, stepover, unit); err != nil {
			return err
		}
		dir := math.Pow(-1, float64(i))
		for j := 0; j < ny; j++ {
			if err := m.Y.MoveRel(ctx, stepover*dir, unit); err != nil {
				return err
			}
			if visit != nil {
				if err := visit(i, j); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
