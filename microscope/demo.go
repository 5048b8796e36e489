package microscope

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/nasa-jpl/beamprof/motion"
)

// ErrIncomplete is returned by Demo on a microscope missing a device it drives
var ErrIncomplete = errors.New("microscope: device missing from configuration")

// Demo exercises every device: it homes, moves the plate to the middle,
// raster scans with a stepover matched to the objective, then changes filter
// and objective.  Progress is written to l.
func Demo(ctx context.Context, m *Microscope, l *log.Logger) error {
	var missing []string
	if m.Turret == nil {
		missing = append(missing, "objective changer")
	}
	if m.Plate == nil {
		missing = append(missing, "XY plate")
	}
	if m.Filter == nil {
		missing = append(missing, "filter changer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	devs, err := m.conn.DetectDevices()
	if err != nil {
		return err
	}
	for _, d := range devs {
		l.Println("found", d)
	}
	if err = m.Initialize(ctx); err != nil {
		return err
	}
	l.Println("homing complete")

	// non parfocal objectives need the datum well clear of the sample
	if err = m.Turret.SetFocusDatum(m.Config.FocusDatumMM, motion.Millimeter); err != nil {
		return err
	}

	l.Println("synchronized move to start position")
	if err = m.Plate.MoveAbs(ctx, 50, 50, motion.Millimeter); err != nil {
		return err
	}

	l.Println("focus move")
	if err = m.Focus.MoveRel(ctx, 100, motion.Micrometer); err != nil {
		return err
	}

	obj, err := m.Turret.CurrentObjective(ctx)
	if err != nil {
		return err
	}
	stepover := 20 / obj.Magnification
	l.Printf("snake scan, %gx objective, %g mm stepover", obj.Magnification, stepover)
	if err = m.SnakeScan(ctx, 10, 10, stepover, motion.Millimeter, nil); err != nil {
		return err
	}

	l.Println("retract the objective")
	if err = m.Turret.Release(ctx); err != nil {
		return err
	}

	l.Println("change filters")
	if err = m.Filter.Change(ctx, 2); err != nil {
		return err
	}

	l.Println("range of motion of XY")
	if err = m.Plate.MoveMax(ctx); err != nil {
		return err
	}
	if err = m.Plate.MoveMin(ctx); err != nil {
		return err
	}

	l.Println("change objectives with an offset")
	return m.Turret.Change(ctx, 3, m.Config.Objectives[3].OffsetUm, motion.Micrometer)
}
