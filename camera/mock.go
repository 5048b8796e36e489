package camera

import (
	"context"
	"fmt"
	"image"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/beamprof/util"
)

// Spot is a simulated camera looking at a Gaussian beam.  Brightness scales
// linearly with exposure time and clips at 255.  It is safe for concurrent use.
type Spot struct {
	mu sync.Mutex

	// Width and Height are the frame size in pixels
	Width, Height int

	// Row and Col locate the beam center
	Row, Col float64

	// Peak is the peak value at RefExposure
	Peak float64

	// RefExposure is the exposure time at which the beam peaks at Peak
	RefExposure time.Duration

	// Waist returns the 1/e^2 radius of the beam in pixels; it is called once
	// per frame so it may follow a stage position
	Waist func() float64

	// Noise is the peak-to-peak amplitude of uniform noise added to each pixel
	Noise float64

	// FailAfter > 0 makes every capture after the first FailAfter fail
	FailAfter int

	exposure time.Duration
	captures int
	rng      *rand.Rand
}

// NewSpot returns a simulated camera with a beam of constant waist w at the
// center of a width x height frame.  The beam peaks at 200 at 38us.
func NewSpot(width, height int, w float64) *Spot {
	return &Spot{
		Width:       width,
		Height:      height,
		Row:         float64(height) / 2,
		Col:         float64(width) / 2,
		Peak:        200,
		RefExposure: 38 * time.Microsecond,
		Waist:       func() float64 { return w },
		exposure:    38 * time.Microsecond,
		rng:         rand.New(rand.NewSource(1)),
	}
}

// Caustic returns a waist function for a beam focused at z0 with waist w0 and
// Rayleigh range zr, evaluated at the position reported by pos.  All lengths
// along z share one unit.
func Caustic(w0, z0, zr float64, pos func() float64) func() float64 {
	return func() float64 {
		dz := (pos() - z0) / zr
		return w0 * math.Sqrt(1+dz*dz)
	}
}

// SetExposureTime sets the exposure time
func (s *Spot) SetExposureTime(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("camera: exposure time %v must be positive", d)
	}
	s.mu.Lock()
	s.exposure = d
	s.mu.Unlock()
	return nil
}

// GetExposureTime gets the exposure time
func (s *Spot) GetExposureTime() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposure, nil
}

// Captures returns the number of frames taken so far
func (s *Spot) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// Capture renders one frame
func (s *Spot) Capture(ctx context.Context) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAfter > 0 && s.captures >= s.FailAfter {
		return nil, fmt.Errorf("%w: frame %d", ErrCaptureFailed, s.captures)
	}
	s.captures++
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(1))
	}
	gain := 1.0
	if s.RefExposure > 0 {
		gain = float64(s.exposure) / float64(s.RefExposure)
	}
	amp := s.Peak * gain
	w := s.Waist()
	k := -2 / (w * w)
	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		dy := float64(y) - s.Row
		for x := 0; x < s.Width; x++ {
			dx := float64(x) - s.Col
			v := amp * math.Exp(k*(dx*dx+dy*dy))
			if s.Noise > 0 {
				v += (s.rng.Float64() - 0.5) * s.Noise
			}
			img.Pix[y*img.Stride+x] = uint8(util.Clamp(math.Round(v), 0, 255))
		}
	}
	return img, nil
}

// CollectHeaderMetadata describes the simulated beam for FITS headers
func (s *Spot) CollectHeaderMetadata() []fitsio.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []fitsio.Card{
		{Name: "INSTRUME", Value: "simulated spot", Comment: "camera"},
		{Name: "WAIST", Value: s.Waist(), Comment: "1/e^2 radius, pixels"},
		{Name: "FRAMENUM", Value: s.captures, Comment: "frames taken"},
	}
}
