package volume

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func slice(rows, cols int, fill func(i, j int) uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, cols, rows))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			img.Pix[i*img.Stride+j] = fill(i, j)
		}
	}
	return img
}

func cube(t *testing.T) *Volume {
	t.Helper()
	v := &Volume{}
	for k := 0; k < 3; k++ {
		kk := k
		s := slice(4, 4, func(i, j int) uint8 { return uint8(100*kk + 10*i + j) })
		if err := v.Append(float64(50000-500*k), s); err != nil {
			t.Fatal(err)
		}
	}
	return v
}

func TestAppendShape(t *testing.T) {
	v := cube(t)
	rows, cols, n := v.Shape()
	if rows != 4 || cols != 4 || n != 3 {
		t.Errorf("expected 4x4x3 got %dx%dx%d", rows, cols, n)
	}
	err := v.Append(0, slice(4, 5, func(i, j int) uint8 { return 0 }))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch got %v", err)
	}
	if v.Len() != 3 {
		t.Errorf("expected a refused slice to leave 3 slices, got %d", v.Len())
	}
	if diff := cmp.Diff([]float64{50000, 49500, 49000}, v.Positions()); diff != "" {
		t.Errorf("positions (-want +got):\n%s", diff)
	}
}

func TestAppendCopiesSubImage(t *testing.T) {
	big := slice(10, 10, func(i, j int) uint8 { return uint8(i*10 + j) })
	sub := big.SubImage(image.Rect(2, 3, 5, 5)).(*image.Gray)
	v := &Volume{}
	if err := v.Append(0, sub); err != nil {
		t.Fatal(err)
	}
	big.Pix[3*10+2] = 0
	if got := v.At(0, 0, 0); got != 32 {
		t.Errorf("expected 32 got %d", got)
	}
	if got := v.At(1, 2, 0); got != 44 {
		t.Errorf("expected 44 got %d", got)
	}
}

func TestGrid(t *testing.T) {
	g := NewGrid(cube(t), 2.74)
	approx := cmpopts.EquateApprox(0, 1e-9)
	expectedX := []float64{0, 10.96 / 3, 2 * 10.96 / 3, 10.96}
	if diff := cmp.Diff(expectedX, g.X, approx); diff != "" {
		t.Errorf("X (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(expectedX, g.Y, approx); diff != "" {
		t.Errorf("Y (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 0.5, 1}, g.Z, approx); diff != "" {
		t.Errorf("Z (-want +got):\n%s", diff)
	}
}

func TestFlattenOrder(t *testing.T) {
	v := cube(t)
	g := NewGrid(v, 2.74)
	x, y, z, val := Flatten(v, g)
	if len(x) != 48 || len(y) != 48 || len(z) != 48 || len(val) != 48 {
		t.Fatalf("expected 48 voxels got %d %d %d %d", len(x), len(y), len(z), len(val))
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for k := 0; k < 3; k++ {
				idx := (i*4+j)*3 + k
				if x[idx] != g.X[i] || y[idx] != g.Y[j] || z[idx] != g.Z[k] {
					t.Fatalf("voxel %d: coordinates (%v,%v,%v) do not address (%d,%d,%d)", idx, x[idx], y[idx], z[idx], i, j, k)
				}
				if val[idx] != float64(100*k+10*i+j) {
					t.Fatalf("voxel %d: expected %d got %v", idx, 100*k+10*i+j, val[idx])
				}
			}
		}
	}
	if math.Abs(x[47]-10.96) > 1e-9 || z[47] != 1 {
		t.Errorf("expected last voxel at x=10.96 z=1 got %v %v", x[47], z[47])
	}
}

func TestSingleSlice(t *testing.T) {
	v := &Volume{}
	v.Append(1, slice(2, 2, func(i, j int) uint8 { return 1 }))
	g := NewGrid(v, 1)
	if len(g.Z) != 1 || g.Z[0] != 0 {
		t.Errorf("expected Z=[0] got %v", g.Z)
	}
}

func TestMaxProjection(t *testing.T) {
	mip := cube(t).MaxProjection()
	if mip.Pix[0] != 200 || mip.Pix[15] != 233 {
		t.Errorf("expected 200 and 233 got %d and %d", mip.Pix[0], mip.Pix[15])
	}
}
