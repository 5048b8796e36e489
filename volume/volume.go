// Package volume accumulates reduced beam samples taken along the optical
// axis into a 3D intensity volume and maps it to physical coordinates.
package volume

import (
	"errors"
	"fmt"
	"image"

	"github.com/nasa-jpl/beamprof/util"
)

// ErrShapeMismatch is returned when appending a slice whose shape differs
// from the slices already in the volume
var ErrShapeMismatch = errors.New("volume: slice shape differs from volume")

// Volume is a stack of equally sized 8-bit slices, in the order they were
// taken, with the stage position of each.  The zero value is an empty volume
// ready to use.
type Volume struct {
	rows, cols int
	slices     []*image.Gray
	positions  []float64
}

// Append adds a slice taken at stage position pos.  The slice is copied.
func (v *Volume) Append(pos float64, s *image.Gray) error {
	b := s.Bounds()
	if len(v.slices) == 0 {
		v.rows, v.cols = b.Dy(), b.Dx()
	} else if b.Dy() != v.rows || b.Dx() != v.cols {
		return fmt.Errorf("%w: have %dx%d, got %dx%d", ErrShapeMismatch, v.rows, v.cols, b.Dy(), b.Dx())
	}
	c := image.NewGray(image.Rect(0, 0, v.cols, v.rows))
	for y := 0; y < v.rows; y++ {
		off := s.PixOffset(b.Min.X, b.Min.Y+y)
		copy(c.Pix[y*c.Stride:], s.Pix[off:off+v.cols])
	}
	v.slices = append(v.slices, c)
	v.positions = append(v.positions, pos)
	return nil
}

// Shape returns the number of rows, columns, and slices
func (v *Volume) Shape() (rows, cols, slices int) {
	return v.rows, v.cols, len(v.slices)
}

// Len is the number of slices
func (v *Volume) Len() int {
	return len(v.slices)
}

// Slice returns slice k
func (v *Volume) Slice(k int) *image.Gray {
	return v.slices[k]
}

// Slices returns every slice in visitation order
func (v *Volume) Slices() []*image.Gray {
	return v.slices
}

// Positions returns the stage position of every slice
func (v *Volume) Positions() []float64 {
	return v.positions
}

// At returns the value at row i, column j of slice k
func (v *Volume) At(i, j, k int) uint8 {
	s := v.slices[k]
	return s.Pix[i*s.Stride+j]
}

// MaxProjection collapses the volume along the slice axis, keeping the
// brightest value of each pixel
func (v *Volume) MaxProjection() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, v.cols, v.rows))
	for _, s := range v.slices {
		for i, p := range s.Pix {
			if p > out.Pix[i] {
				out.Pix[i] = p
			}
		}
	}
	return out
}

// Grid is the physical coordinate of each voxel index.  X runs over rows and
// Y over columns, both in the unit of the pixel size; Z is normalized to [0, 1]
// over the slices.
type Grid struct {
	X, Y, Z []float64
}

// NewGrid returns the coordinate grid of v for a given pixel size
func NewGrid(v *Volume, pixelSize float64) Grid {
	rows, cols, n := v.Shape()
	return Grid{
		X: util.Linspace(0, pixelSize*float64(rows), rows),
		Y: util.Linspace(0, pixelSize*float64(cols), cols),
		Z: util.Linspace(0, 1, n),
	}
}

// Flatten returns parallel coordinate and value sequences for every voxel.
// Index (i*cols+j)*slices+k holds row i, column j, slice k, so the slice
// index varies fastest.
func Flatten(v *Volume, g Grid) (x, y, z, value []float64) {
	rows, cols, n := v.Shape()
	size := rows * cols * n
	x = make([]float64, 0, size)
	y = make([]float64, 0, size)
	z = make([]float64, 0, size)
	value = make([]float64, 0, size)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			for k := 0; k < n; k++ {
				x = append(x, g.X[i])
				y = append(y, g.Y[j])
				z = append(z, g.Z[k])
				value = append(value, float64(v.At(i, j, k)))
			}
		}
	}
	return x, y, z, value
}
