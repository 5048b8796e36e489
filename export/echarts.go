package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot/palette"
)

// ECharts renders a request as a self-contained HTML page with a rotatable
// 3D scatter of the voxels.  Each drawn voxel is colored by its iso level and
// carries the alpha of the opacity transfer function; invisible voxels are
// left out.
type ECharts struct {
	Width, Height string

	// AssetsHost overrides where the echarts scripts are loaded from
	AssetsHost string
}

// Render satisfies Renderer
func (e ECharts) Render(w io.Writer, req Request) error {
	n := req.SurfaceCount
	if n < 1 {
		n = 1
	}
	colors := palette.Heat(n, 1).Colors()
	data := make([]opts.Chart3DData, 0, len(req.Value)/4)
	for i, v := range req.Value {
		lvl, ok := req.Level(v)
		if !ok {
			continue
		}
		a := req.Alpha(v)
		if a <= 0 {
			continue
		}
		data = append(data, opts.Chart3DData{
			Value:     []interface{}{req.X[i], req.Y[i], req.Z[i], v},
			ItemStyle: &opts.ItemStyle{Color: rgba(colors[lvl], a)},
		})
	}

	initOpts := opts.Initialization{PageTitle: req.Title, Width: e.Width, Height: e.Height}
	if initOpts.Width == "" {
		initOpts.Width = "900px"
	}
	if initOpts.Height == "" {
		initOpts.Height = "900px"
	}
	if e.AssetsHost != "" {
		initOpts.AssetsHost = e.AssetsHost
	}
	sc := charts.NewScatter3D()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: req.Title, Subtitle: fmt.Sprintf("%d of %d voxels", len(data), len(req.Value))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: axisName("X", req.XYUnit)}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: axisName("Y", req.XYUnit)}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z"}),
	)
	sc.AddSeries("volume", data)
	return sc.Render(w)
}

func axisName(axis, unit string) string {
	if unit == "" {
		return axis
	}
	return axis + " (" + unit + ")"
}

// rgba formats c with alpha a as a CSS color
func rgba(c color.Color, a float64) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("rgba(%d,%d,%d,%.3f)", r>>8, g>>8, b>>8, a)
}
