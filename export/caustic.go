package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/nasa-jpl/beamprof/improc"
	"github.com/nasa-jpl/beamprof/volume"
)

// CausticPoint is the beam size at one stage position
type CausticPoint struct {
	Position float64
	improc.BeamMetrics
}

// Caustic computes beam metrics for every slice of v
func Caustic(v *volume.Volume) []CausticPoint {
	pos := v.Positions()
	out := make([]CausticPoint, v.Len())
	for k := range out {
		out[k] = CausticPoint{Position: pos[k], BeamMetrics: improc.Metrics(v.Slice(k))}
	}
	return out
}

// WriteCausticCSV writes one row per caustic point.  Centroids and widths are
// scaled by pixelSize.
func WriteCausticCSV(w io.Writer, pts []CausticPoint, pixelSize float64) error {
	cw := csv.NewWriter(w)
	err := cw.Write([]string{"position", "peak", "centroid_x", "centroid_y", "d4sigma_x", "d4sigma_y"})
	if err != nil {
		return err
	}
	f := func(x float64) string {
		return strconv.FormatFloat(x, 'g', 6, 64)
	}
	for _, p := range pts {
		err = cw.Write([]string{
			f(p.Position),
			strconv.Itoa(int(p.Peak)),
			f(p.CentroidX * pixelSize),
			f(p.CentroidY * pixelSize),
			f(p.D4SigmaX * pixelSize),
			f(p.D4SigmaY * pixelSize),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
