// Package export turns a beam volume into artifacts: an interactive 3D
// rendering, a FITS cube, a max-intensity projection, and a caustic table.
package export

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/nasa-jpl/beamprof/volume"
)

const (
	// DefaultHTMLName is the conventional name of the rendered volume
	DefaultHTMLName = "profile_z.html"

	// DefaultIsoMin and DefaultIsoMax bound the rendered values
	DefaultIsoMin = 25
	DefaultIsoMax = 255

	// DefaultOpacity is the global opacity multiplier
	DefaultOpacity = 0.2

	// DefaultSurfaceCount is the number of iso levels
	DefaultSurfaceCount = 25
)

// DefaultOpacityScale maps voxel value to opacity; dim voxels are invisible
var DefaultOpacityScale = [][2]float64{{0, 0}, {100, 0}, {200, 0.5}, {255, 1}}

// Request is a renderable dataset: parallel voxel coordinates and values and
// the transfer settings to draw them with
type Request struct {
	Title string

	// XYUnit, if not empty, labels the X and Y axes
	XYUnit string

	// X, Y, Z, and Value have one entry per voxel
	X, Y, Z, Value []float64

	// IsoMin and IsoMax bound the values that are drawn
	IsoMin, IsoMax float64

	// Opacity scales the output of OpacityScale
	Opacity float64

	// OpacityScale is a piecewise linear (value, opacity) transfer function,
	// sorted by value
	OpacityScale [][2]float64

	// SurfaceCount is the number of iso levels values are quantized to
	SurfaceCount int
}

// Export flattens v on its physical grid into a request with the standard
// transfer settings
func Export(v *volume.Volume, pixelSize float64) Request {
	g := volume.NewGrid(v, pixelSize)
	x, y, z, val := volume.Flatten(v, g)
	scale := make([][2]float64, len(DefaultOpacityScale))
	copy(scale, DefaultOpacityScale)
	return Request{
		Title:        "beam profile",
		X:            x,
		Y:            y,
		Z:            z,
		Value:        val,
		IsoMin:       DefaultIsoMin,
		IsoMax:       DefaultIsoMax,
		Opacity:      DefaultOpacity,
		OpacityScale: scale,
		SurfaceCount: DefaultSurfaceCount,
	}
}

// Transfer evaluates the opacity scale at value, holding the end values
// outside its range.  An empty scale is opaque everywhere.
func (r Request) Transfer(value float64) float64 {
	s := r.OpacityScale
	if len(s) == 0 {
		return 1
	}
	if value <= s[0][0] {
		return s[0][1]
	}
	last := s[len(s)-1]
	if value >= last[0] {
		return last[1]
	}
	i := sort.Search(len(s), func(i int) bool { return s[i][0] >= value })
	lo, hi := s[i-1], s[i]
	if hi[0] == lo[0] {
		return hi[1]
	}
	t := (value - lo[0]) / (hi[0] - lo[0])
	return lo[1] + t*(hi[1]-lo[1])
}

// Alpha is the drawn opacity of a voxel with value, including the global
// opacity
func (r Request) Alpha(value float64) float64 {
	return r.Opacity * r.Transfer(value)
}

// Level quantizes value to one of SurfaceCount iso levels spanning
// [IsoMin, IsoMax].  Values outside the range have no level.
func (r Request) Level(value float64) (int, bool) {
	if value < r.IsoMin || value > r.IsoMax || r.SurfaceCount < 1 {
		return 0, false
	}
	if r.SurfaceCount == 1 || r.IsoMax == r.IsoMin {
		return 0, true
	}
	f := (value - r.IsoMin) / (r.IsoMax - r.IsoMin)
	return int(math.Round(f * float64(r.SurfaceCount-1))), true
}

// Renderer draws a request as a document
type Renderer interface {
	Render(w io.Writer, req Request) error
}

// WriteHTML renders req to the file at path, replacing it
func WriteHTML(path string, r Renderer, req Request) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = r.Render(f, req)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("export: writing %s: %w", path, err)
	}
	return nil
}
