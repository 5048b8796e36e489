// Package camera describes the interface the profiler uses to take pictures,
// and provides a simulated camera, an HTTP client camera, and FITS output.
//
// Frames are 8-bit grayscale images.  A camera with a deeper sensor is expected
// to scale to 8 bits before returning a frame.
package camera

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrCaptureFailed is returned by a camera which could not produce a frame
var ErrCaptureFailed = errors.New("camera: capture failed")

// Capturer is a camera which can take single frames with a set exposure time
type Capturer interface {
	// SetExposureTime sets the exposure time
	SetExposureTime(time.Duration) error

	// GetExposureTime gets the exposure time
	GetExposureTime() (time.Duration, error)

	// Capture triggers one exposure and returns the frame.  It blocks until
	// the frame is read out or ctx is done.
	Capture(ctx context.Context) (*image.Gray, error)
}

// Burst captures n frames in sequence, stopping at the first error
func Burst(ctx context.Context, c Capturer, n int) ([]*image.Gray, error) {
	out := make([]*image.Gray, 0, n)
	for i := 0; i < n; i++ {
		img, err := c.Capture(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

// ToGray converts any image to 8-bit grayscale.  A *image.Gray is returned
// as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}
