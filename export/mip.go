package export

import (
	"errors"
	"image"
	"io"

	"github.com/nasa-jpl/beamprof/volume"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// grayGrid adapts an image to plotter.GridXYZ; columns are X
type grayGrid struct {
	img       *image.Gray
	pixelSize float64
}

func (g grayGrid) Dims() (c, r int) {
	b := g.img.Bounds()
	return b.Dx(), b.Dy()
}

func (g grayGrid) Z(c, r int) float64 {
	return float64(g.img.Pix[r*g.img.Stride+c])
}

func (g grayGrid) X(c int) float64 {
	return float64(c) * g.pixelSize
}

func (g grayGrid) Y(r int) float64 {
	return float64(r) * g.pixelSize
}

// WriteMIP draws the max-intensity projection of v along the slice axis as a
// heat map, in format (png, svg, pdf, ...)
func WriteMIP(w io.Writer, v *volume.Volume, pixelSize float64, format string) error {
	rows, cols, n := v.Shape()
	if n == 0 || rows < 2 || cols < 2 {
		return errors.New("export: projection needs at least a 2x2 slice")
	}
	mip := v.MaxProjection()
	h := plotter.NewHeatMap(grayGrid{img: mip, pixelSize: pixelSize}, palette.Heat(32, 1))
	if h.Max == h.Min {
		h.Max = h.Min + 1
	}
	p := plot.New()
	p.Title.Text = "max intensity projection"
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"
	p.Add(h)
	wt, err := p.WriterTo(4*vg.Inch, 4*vg.Inch, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
