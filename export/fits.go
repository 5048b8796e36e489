package export

import (
	"errors"
	"io"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/beamprof/camera"
	"github.com/nasa-jpl/beamprof/volume"
)

// WriteFits streams v as a FITS cube, slices along the third axis, with the
// pixel size and slice positions in the header
func WriteFits(w io.Writer, v *volume.Volume, pixelSize float64) error {
	if v.Len() == 0 {
		return errors.New("export: empty volume")
	}
	pos := v.Positions()
	cards := []fitsio.Card{
		{Name: "PIXSIZE", Value: pixelSize, Comment: "pixel size"},
		{Name: "NSLICE", Value: len(pos), Comment: "number of slices"},
		{Name: "ZSTART", Value: pos[0], Comment: "stage position of the first slice"},
		{Name: "ZEND", Value: pos[len(pos)-1], Comment: "stage position of the last slice"},
	}
	return camera.WriteFits(w, cards, v.Slices())
}
