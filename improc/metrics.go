package improc

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"
)

// BeamMetrics summarizes the intensity distribution of one sample
type BeamMetrics struct {
	// Peak is the brightest value and PeakAt its (first) location
	Peak   uint8
	PeakAt image.Point

	// Baseline is the darkest value, subtracted before the moments
	Baseline uint8

	// CentroidX and CentroidY are the intensity weighted mean position, px
	CentroidX, CentroidY float64

	// D4SigmaX and D4SigmaY are the second moment beam diameters, px
	D4SigmaX, D4SigmaY float64
}

// Metrics computes the peak, centroid, and D4σ width of img.  An image with
// no signal above its baseline yields NaN for the moment based fields.
func Metrics(img *image.Gray) BeamMetrics {
	var m BeamMetrics
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return m
	}
	m.Baseline = 255
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := img.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			if v > m.Peak {
				m.Peak = v
				m.PeakAt = image.Pt(x, y)
			}
			if v < m.Baseline {
				m.Baseline = v
			}
		}
	}

	// marginal distributions carry the same first and second moments as the
	// full image and are much shorter
	colW := make([]float64, w)
	rowW := make([]float64, h)
	var total float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y) - float64(m.Baseline)
			colW[x] += v
			rowW[y] += v
			total += v
		}
	}
	if total == 0 {
		nan := math.NaN()
		m.CentroidX, m.CentroidY, m.D4SigmaX, m.D4SigmaY = nan, nan, nan, nan
		return m
	}
	xs := indices(w)
	ys := indices(h)
	m.CentroidX = stat.Mean(xs, colW)
	m.CentroidY = stat.Mean(ys, rowW)
	m.D4SigmaX = 4 * math.Sqrt(stat.Moment(2, xs, colW))
	m.D4SigmaY = 4 * math.Sqrt(stat.Moment(2, ys, rowW))
	return m
}

func indices(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}
