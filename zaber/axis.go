package zaber

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/nasa-jpl/beamprof/motion"
	"golang.org/x/time/rate"
)

const (
	// DefaultMicrostepSize is the travel of one microstep on common linear stages, in microns
	DefaultMicrostepSize = 0.047625

	// DefaultPollInterval is the period between status queries while waiting for motion to end
	DefaultPollInterval = 20 * time.Millisecond

	// DefaultMoveTimeout bounds a blocking move when the caller's context has no deadline
	DefaultMoveTimeout = 60 * time.Second
)

// Axis is one axis of a Zaber device.  All motion methods block until the axis
// is idle again.  Axis satisfies motion.Stage.
type Axis struct {
	conn   *Connection
	Device int
	Number int

	// MicrostepSize is the travel of one native unit, in microns
	MicrostepSize float64

	// PollInterval is the period between status queries during motion
	PollInterval time.Duration

	// MoveTimeout is used when the context passed to a motion method has no deadline
	MoveTimeout time.Duration
}

// NewAxis returns an axis with the default microstep size and timing
func NewAxis(c *Connection, device, number int) *Axis {
	return &Axis{
		conn:          c,
		Device:        device,
		Number:        number,
		MicrostepSize: DefaultMicrostepSize,
		PollInterval:  DefaultPollInterval,
		MoveTimeout:   DefaultMoveTimeout,
	}
}

func (a *Axis) cmd(s string) (Reply, error) {
	return a.conn.Command(a.Device, a.Number, s)
}

// toNative converts a length to microsteps
func (a *Axis) toNative(x float64, unit motion.Unit) (int64, error) {
	if unit == motion.Native {
		return int64(math.Round(x)), nil
	}
	um, err := motion.Convert(x, unit, motion.Micrometer)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(um / a.MicrostepSize)), nil
}

func (a *Axis) fromNative(n int64, unit motion.Unit) (float64, error) {
	if unit == motion.Native {
		return float64(n), nil
	}
	return motion.Convert(float64(n)*a.MicrostepSize, motion.Micrometer, unit)
}

// IsHomed returns true if the axis has a reference position
func (a *Axis) IsHomed(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r, err := a.cmd("get limit.home.triggered")
	if err != nil {
		return false, err
	}
	v, err := r.Int()
	if err != nil {
		return false, fmt.Errorf("zaber: homed state %q: %w", r.Data, ErrBadReply)
	}
	return v == 1, nil
}

// Home homes the axis
func (a *Axis) Home(ctx context.Context) error {
	return a.motion(ctx, "home")
}

// MoveAbs moves to an absolute position
func (a *Axis) MoveAbs(ctx context.Context, pos float64, unit motion.Unit) error {
	n, err := a.toNative(pos, unit)
	if err != nil {
		return err
	}
	return a.motion(ctx, "move abs "+strconv.FormatInt(n, 10))
}

// MoveRel moves a relative distance
func (a *Axis) MoveRel(ctx context.Context, dist float64, unit motion.Unit) error {
	n, err := a.toNative(dist, unit)
	if err != nil {
		return err
	}
	return a.motion(ctx, "move rel "+strconv.FormatInt(n, 10))
}

// MoveMin moves to the lower end of travel
func (a *Axis) MoveMin(ctx context.Context) error {
	return a.motion(ctx, "move min")
}

// MoveMax moves to the upper end of travel
func (a *Axis) MoveMax(ctx context.Context) error {
	return a.motion(ctx, "move max")
}

// MoveIndex moves an indexed device (filter wheel, objective turret) to
// position idx, counted from 1
func (a *Axis) MoveIndex(ctx context.Context, idx int) error {
	return a.motion(ctx, "move index "+strconv.Itoa(idx))
}

// GetIndex returns the current index of an indexed device, 0 if between indices
func (a *Axis) GetIndex(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r, err := a.cmd("get motion.index.num")
	if err != nil {
		return 0, err
	}
	v, err := r.Int()
	return int(v), err
}

// GetPos returns the current position
func (a *Axis) GetPos(ctx context.Context, unit motion.Unit) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r, err := a.cmd("get pos")
	if err != nil {
		return 0, err
	}
	n, err := r.Int()
	if err != nil {
		return 0, fmt.Errorf("zaber: position %q: %w", r.Data, ErrBadReply)
	}
	return a.fromNative(n, unit)
}

// velocityScale is the ratio of native velocity units to microsteps per second
const velocityScale = 1.6384

// GetVelocity returns the maxspeed setting in length units per second
func (a *Axis) GetVelocity(ctx context.Context, unit motion.Unit) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r, err := a.cmd("get maxspeed")
	if err != nil {
		return 0, err
	}
	n, err := r.Int()
	if err != nil {
		return 0, fmt.Errorf("zaber: maxspeed %q: %w", r.Data, ErrBadReply)
	}
	if unit == motion.Native {
		return float64(n), nil
	}
	return motion.Convert(float64(n)/velocityScale*a.MicrostepSize, motion.Micrometer, unit)
}

// SetVelocity sets the maxspeed setting from a speed in length units per second
func (a *Axis) SetVelocity(ctx context.Context, v float64, unit motion.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := int64(math.Round(v))
	if unit != motion.Native {
		um, err := motion.Convert(v, unit, motion.Micrometer)
		if err != nil {
			return err
		}
		n = int64(math.Round(um / a.MicrostepSize * velocityScale))
	}
	_, err := a.cmd("set maxspeed " + strconv.FormatInt(n, 10))
	return err
}

// Stop decelerates the axis to a halt and waits for it
func (a *Axis) Stop(ctx context.Context) error {
	err := a.motion(ctx, "stop")
	if errors.Is(err, ErrInterrupted) {
		// stopping a move is the interruption we asked for
		return a.ClearWarnings()
	}
	return err
}

// ClearWarnings clears latched warning flags
func (a *Axis) ClearWarnings() error {
	_, err := a.cmd("warnings clear")
	return err
}

// Start issues a motion command without waiting for it to complete.  Pair with
// WaitIdle to move several axes at once.
func (a *Axis) Start(cmd string) error {
	r, err := a.cmd(cmd)
	if err != nil {
		return err
	}
	if r.Fault() {
		return FaultError{Device: a.Device, Axis: a.Number, Flag: r.Warning}
	}
	return nil
}

// StartMoveAbs begins an absolute move without waiting for it to complete
func (a *Axis) StartMoveAbs(pos float64, unit motion.Unit) error {
	n, err := a.toNative(pos, unit)
	if err != nil {
		return err
	}
	return a.Start("move abs " + strconv.FormatInt(n, 10))
}

func (a *Axis) motion(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// NI latches; a stale one would read as this move being interrupted
	if err := a.ClearWarnings(); err != nil {
		return err
	}
	if err := a.Start(cmd); err != nil {
		return err
	}
	return a.WaitIdle(ctx)
}

// WaitIdle polls the axis until it reports IDLE.  If the context expires first
// the axis is stopped and ErrTimeout is returned.
func (a *Axis) WaitIdle(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && a.MoveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.MoveTimeout)
		defer cancel()
	}
	interval := a.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			a.halt()
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("%w (device %d axis %d)", ErrTimeout, a.Device, a.Number)
		}
		r, err := a.cmd("")
		if err != nil {
			return err
		}
		if r.Fault() {
			return FaultError{Device: a.Device, Axis: a.Number, Flag: r.Warning}
		}
		if r.Idle() {
			if r.Warning == WarningInterrupted {
				if err := a.ClearWarnings(); err != nil {
					log.Printf("zaber: clearing warnings on device %d axis %d: %v", a.Device, a.Number, err)
				}
				return ErrInterrupted
			}
			return nil
		}
	}
}

// halt stops the axis without waiting; used after a deadline has passed
func (a *Axis) halt() {
	if _, err := a.cmd("stop"); err != nil {
		log.Printf("zaber: stopping device %d axis %d: %v", a.Device, a.Number, err)
	}
}
