// Package scan drives a beam profiling scan along the optical axis: the stage
// steps the camera through focus while bursts of frames are reduced to a
// volume of the beam.
package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/nasa-jpl/beamprof/improc"
	"github.com/nasa-jpl/beamprof/motion"
	"github.com/nasa-jpl/beamprof/util"
	"github.com/nasa-jpl/beamprof/volume"
)

var (
	// ErrNotHomed is returned when the stage has no reference position
	ErrNotHomed = errors.New("scan: stage not referenced")

	// ErrCapture wraps a camera failure
	ErrCapture = errors.New("scan: capture failed")

	// ErrMove wraps a stage failure
	ErrMove = errors.New("scan: move failed")

	// ErrBurstSize is returned for a burst of fewer than one frame
	ErrBurstSize = errors.New("scan: burst size must be at least 1")
)

// Stage is the axis the camera rides on
type Stage interface {
	motion.Referencer
	motion.Mover
}

// Camera takes the frames
type Camera interface {
	SetExposureTime(time.Duration) error
	Capture(ctx context.Context) (*image.Gray, error)
}

// Config holds the scan parameters
type Config struct {
	// Start, End, and Step define the stage positions: Start, Start-Step, ...
	// while strictly beyond End.  They are in Unit.
	Start float64 `koanf:"Start" yaml:"Start"`
	End   float64 `koanf:"End" yaml:"End"`
	Step  float64 `koanf:"Step" yaml:"Step"`

	// Unit is the length unit of Start, End, and Step
	Unit motion.Unit `koanf:"Unit" yaml:"Unit"`

	// BurstSize is the number of frames collapsed into each slice
	BurstSize int `koanf:"BurstSize" yaml:"BurstSize"`

	// Scale is the downsampling factor of the reducer, in (0, 1]
	Scale float64 `koanf:"Scale" yaml:"Scale"`

	// Margin is added to the radius of the located spot, in pixels
	Margin int `koanf:"Margin" yaml:"Margin"`

	// LocateExposure is used for the frame the spot is located in, and
	// ScanExposure for every frame of the scan
	LocateExposure time.Duration `koanf:"LocateExposure" yaml:"LocateExposure"`
	ScanExposure   time.Duration `koanf:"ScanExposure" yaml:"ScanExposure"`

	// MoveTimeout and CaptureTimeout bound each move and each capture
	MoveTimeout    time.Duration `koanf:"MoveTimeout" yaml:"MoveTimeout"`
	CaptureTimeout time.Duration `koanf:"CaptureTimeout" yaml:"CaptureTimeout"`
}

// DefaultConfig is a 20 slice scan from 50 to 40 mm
func DefaultConfig() Config {
	return Config{
		Start:          50000,
		End:            40000,
		Step:           500,
		Unit:           motion.Micrometer,
		BurstSize:      20,
		Scale:          0.05,
		Margin:         -10,
		LocateExposure: 3619 * time.Microsecond,
		ScanExposure:   38 * time.Microsecond,
		MoveTimeout:    60 * time.Second,
		CaptureTimeout: 5 * time.Second,
	}
}

// Positions returns the stage positions of the scan in visitation order
func (c Config) Positions() []float64 {
	return util.Arange(c.Start, c.End, -c.Step)
}

// Slice is one finished step of a scan
type Slice struct {
	// Index counts slices from 0
	Index int

	// Position is where the stage was, in the scan's Unit
	Position float64

	// Region is the crop region fixed at the start of the scan
	Region improc.CropRegion

	// Sample is the max-hold of the burst
	Sample *image.Gray
}

// Controller runs scans
type Controller struct {
	Stage  Stage
	Camera Camera
	Config Config

	// Locator finds the spot in the first frame
	Locator improc.Locator

	// OnSlice, if not nil, is called after each slice is added to the volume
	OnSlice func(Slice)
}

// NewController returns a controller with the standard locator
func NewController(stage Stage, cam Camera, cfg Config) *Controller {
	return &Controller{Stage: stage, Camera: cam, Config: cfg, Locator: improc.NewLocator()}
}

func (c *Controller) move(ctx context.Context, pos float64) error {
	if c.Config.MoveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Config.MoveTimeout)
		defer cancel()
	}
	err := c.Stage.MoveAbs(ctx, pos, c.Config.Unit)
	if err != nil {
		return fmt.Errorf("%w to %v %s: %w", ErrMove, pos, c.Config.Unit, err)
	}
	return nil
}

func (c *Controller) capture(ctx context.Context) (*image.Gray, error) {
	if c.Config.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Config.CaptureTimeout)
		defer cancel()
	}
	img, err := c.Camera.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	return img, nil
}

func (c *Controller) expose(d time.Duration) error {
	if err := c.Camera.SetExposureTime(d); err != nil {
		return fmt.Errorf("%w: exposure %v: %w", ErrCapture, d, err)
	}
	return nil
}

// Locate moves to the start of the scan, takes a frame at the locate exposure,
// and finds the crop region in it
func (c *Controller) Locate(ctx context.Context) (improc.CropRegion, error) {
	var region improc.CropRegion
	if err := c.move(ctx, c.Config.Start); err != nil {
		return region, err
	}
	if err := c.expose(c.Config.LocateExposure); err != nil {
		return region, err
	}
	frame, err := c.capture(ctx)
	if err != nil {
		return region, err
	}
	return c.Locator.Locate(frame, c.Config.Margin)
}

// Scan runs the scan and returns the volume, one slice per position.  Any
// failure aborts the scan and no volume is returned.
func (c *Controller) Scan(ctx context.Context) (*volume.Volume, error) {
	cfg := c.Config
	if !(cfg.Scale > 0 && cfg.Scale <= 1) {
		return nil, improc.ErrInvalidScale
	}
	if cfg.BurstSize < 1 {
		return nil, ErrBurstSize
	}
	homed, err := c.Stage.IsHomed(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMove, err)
	}
	if !homed {
		return nil, ErrNotHomed
	}

	region, err := c.Locate(ctx)
	if err != nil {
		return nil, err
	}
	if err = c.expose(cfg.ScanExposure); err != nil {
		return nil, err
	}

	vol := &volume.Volume{}
	burst := make([]*image.Gray, cfg.BurstSize)
	for idx, pos := range cfg.Positions() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.move(ctx, pos); err != nil {
			return nil, err
		}
		for b := range burst {
			frame, err := c.capture(ctx)
			if err != nil {
				return nil, err
			}
			burst[b], err = improc.Reduce(frame, region, cfg.Scale)
			if err != nil {
				return nil, err
			}
		}
		sample, err := improc.MaxHold(burst)
		if err != nil {
			return nil, err
		}
		if err = vol.Append(pos, sample); err != nil {
			return nil, err
		}
		if c.OnSlice != nil {
			c.OnSlice(Slice{Index: idx, Position: pos, Region: region, Sample: sample})
		}
	}
	return vol, nil
}
