// Package improc locates a light spot in a camera frame and reduces cropped
// frames to small, denoised samples.
package improc

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/gift"
	"github.com/nasa-jpl/beamprof/util"
)

const (
	// LocateMedianSize is the median kernel applied before edge detection
	LocateMedianSize = 3

	// CannyLow and CannyHigh are the hysteresis thresholds of the edge detector
	CannyLow  = 100
	CannyHigh = 200

	// ReduceMedianSize is the median kernel applied to cropped frames
	ReduceMedianSize = 7
)

var (
	// ErrNoSpotDetected is returned when no region can be established around a spot
	ErrNoSpotDetected = errors.New("improc: no spot detected")

	// ErrInvalidScale is returned for a scale factor outside (0, 1]
	ErrInvalidScale = errors.New("improc: invalid scale, must be in (0, 1]")

	// ErrEmptyBurst is returned when collapsing zero samples
	ErrEmptyBurst = errors.New("improc: burst contains no samples")

	// ErrShapeMismatch is returned when samples in a burst differ in shape
	ErrShapeMismatch = errors.New("improc: samples differ in shape")
)

// CropRegion is a pair of half-open index ranges into a frame
type CropRegion struct {
	Rows [2]int
	Cols [2]int
}

// Width is the number of columns in the region
func (c CropRegion) Width() int {
	return c.Cols[1] - c.Cols[0]
}

// Height is the number of rows in the region
func (c CropRegion) Height() int {
	return c.Rows[1] - c.Rows[0]
}

// Rect converts the region to an image.Rectangle relative to a frame whose
// bounds start at origin
func (c CropRegion) Rect(origin image.Point) image.Rectangle {
	return image.Rect(c.Cols[0], c.Rows[0], c.Cols[1], c.Rows[1]).Add(origin)
}

// Observer is notified after every successful Locate, for operator feedback
type Observer func(frame *image.Gray, region CropRegion)

// EdgeDetector returns the coordinates of every edge pixel in img, relative
// to its origin
type EdgeDetector func(img *image.Gray, low, high float64) []image.Point

// Locator finds the bounding region of the bright spot in a frame.  The zero
// value is not usable; start from NewLocator.
type Locator struct {
	MedianSize int
	Low, High  float64

	// Edges is the edge detector; nil means the built-in Canny
	Edges EdgeDetector

	// Observer, if not nil, is called with each located region
	Observer Observer
}

// NewLocator returns a locator with the standard kernel and thresholds
func NewLocator() Locator {
	return Locator{MedianSize: LocateMedianSize, Low: CannyLow, High: CannyHigh, Edges: defaultEdges}
}

// Locate finds the spot in frame with the standard settings
func Locate(frame *image.Gray, margin int) (CropRegion, error) {
	return NewLocator().Locate(frame, margin)
}

// Locate finds the spot in frame.  The minimum circle enclosing every edge pixel
// has margin added to its radius (negative shrinks it), and the square of side
// 2*radius about its center, clamped to the frame, is returned.
func (l Locator) Locate(frame *image.Gray, margin int) (CropRegion, error) {
	var region CropRegion
	b := frame.Bounds()
	smooth := locateMedian(frame, l.MedianSize)
	edges := l.Edges
	if edges == nil {
		edges = defaultEdges
	}
	pts := edges(smooth, l.Low, l.High)
	if len(pts) == 0 {
		return region, ErrNoSpotDetected
	}
	c := enclose(pts)
	row, col := int(c.Y), int(c.X)
	radius := int(c.R) + margin
	if radius <= 0 {
		return region, ErrNoSpotDetected
	}
	h, w := b.Dy(), b.Dx()
	region.Rows = [2]int{util.ClampInt(row-radius, 0, h), util.ClampInt(row+radius, 0, h)}
	region.Cols = [2]int{util.ClampInt(col-radius, 0, w), util.ClampInt(col+radius, 0, w)}
	if region.Width() <= 0 || region.Height() <= 0 {
		return CropRegion{}, ErrNoSpotDetected
	}
	if l.Observer != nil {
		l.Observer(frame, region)
	}
	return region, nil
}

// Median applies a square median filter of size k.  k <= 1 returns a copy.
func Median(img *image.Gray, k int) *image.Gray {
	if k <= 1 {
		dst := image.NewGray(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
		g := gift.New()
		g.Draw(dst, img)
		return dst
	}
	g := gift.New(gift.Median(k, false))
	dst := image.NewGray(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// Reduce crops frame to region, median filters it, and downsamples it by
// scale with area averaging.  The result is round(w*scale) x round(h*scale),
// at least one pixel on each side.
func Reduce(frame *image.Gray, region CropRegion, scale float64) (*image.Gray, error) {
	if !(scale > 0 && scale <= 1) {
		return nil, ErrInvalidScale
	}
	rect := region.Rect(frame.Bounds().Min)
	if rect.Empty() || !rect.In(frame.Bounds()) {
		return nil, ErrNoSpotDetected
	}
	crop := frame.SubImage(rect).(*image.Gray)
	w, h := ReducedSize(region, scale)
	return reduceCrop(crop, w, h), nil
}

// giftReduce median filters crop and area averages it down to w x h
func giftReduce(crop *image.Gray, w, h int) *image.Gray {
	g := gift.New(
		gift.Median(ReduceMedianSize, false),
		gift.Resize(w, h, gift.BoxResampling))
	dst := image.NewGray(g.Bounds(crop.Bounds()))
	g.Draw(dst, crop)
	return dst
}

// ReducedSize is the (width, height) Reduce produces for region at scale
func ReducedSize(region CropRegion, scale float64) (int, int) {
	w := maxInt(int(math.Round(float64(region.Width())*scale)), 1)
	h := maxInt(int(math.Round(float64(region.Height())*scale)), 1)
	return w, h
}

// MaxHold collapses a burst of samples to their elementwise maximum
func MaxHold(burst []*image.Gray) (*image.Gray, error) {
	if len(burst) == 0 {
		return nil, ErrEmptyBurst
	}
	b0 := burst[0].Bounds()
	w, h := b0.Dx(), b0.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for _, s := range burst {
		b := s.Bounds()
		if b.Dx() != w || b.Dy() != h {
			return nil, ErrShapeMismatch
		}
		for y := 0; y < h; y++ {
			off := s.PixOffset(b.Min.X, b.Min.Y+y)
			src := s.Pix[off : off+w]
			dst := out.Pix[y*out.Stride : y*out.Stride+w]
			for x, v := range src {
				if v > dst[x] {
					dst[x] = v
				}
			}
		}
	}
	return out, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
