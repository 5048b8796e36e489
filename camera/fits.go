package camera

import (
	"errors"
	"image"
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFits streams a fits file to w holding one image or, for more than one
// image, a cube with the images along the third axis.  Every image must have
// the same size.
func WriteFits(w io.Writer, metadata []fitsio.Card, imgs []*image.Gray) error {
	if len(imgs) == 0 {
		return errors.New("camera: no images to write")
	}
	nframes := len(imgs)
	b := imgs[0].Bounds()
	width, height := b.Dx(), b.Dy()
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if nframes > 1 {
		dims = append(dims, nframes)
	}
	// 8-bit FITS is unsigned but readers disagree on it; 16-bit signed holds
	// every value without a BZERO
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	ints := make([]int16, 0, width*height*nframes)
	for _, img := range imgs {
		ib := img.Bounds()
		if ib.Dx() != width || ib.Dy() != height {
			return errors.New("camera: images differ in size")
		}
		for y := 0; y < height; y++ {
			off := img.PixOffset(ib.Min.X, ib.Min.Y+y)
			for _, v := range img.Pix[off : off+width] {
				ints = append(ints, int16(v))
			}
		}
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
