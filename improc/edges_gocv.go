//go:build gocv

package improc

import (
	"image"

	"gocv.io/x/gocv"
)

// with the gocv tag, the whole locate and reduce pipeline runs in OpenCV.
// Each step falls back to its pure Go version if a frame cannot be converted.
func init() {
	defaultEdges = cvCanny
	locateMedian = cvMedian
	enclose = cvEnclose
	reduceCrop = cvReduce
}

// toGray copies a single channel 8-bit mat into a new image
func toGray(m gocv.Mat) (*image.Gray, bool) {
	img, err := m.ToImage()
	if err != nil {
		return nil, false
	}
	g, ok := img.(*image.Gray)
	return g, ok
}

func cvMedian(img *image.Gray, k int) *image.Gray {
	if k <= 1 {
		return Median(img, k)
	}
	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return Median(img, k)
	}
	defer mat.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.MedianBlur(mat, &dst, k)
	out, ok := toGray(dst)
	if !ok {
		return Median(img, k)
	}
	return out
}

func cvCanny(img *image.Gray, low, high float64) []image.Point {
	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return Canny(img, low, high)
	}
	defer mat.Close()
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(mat, &edges, float32(low), float32(high))
	var pts []image.Point
	for r := 0; r < edges.Rows(); r++ {
		for c := 0; c < edges.Cols(); c++ {
			if edges.GetUCharAt(r, c) > 0 {
				pts = append(pts, image.Pt(c, r))
			}
		}
	}
	return pts
}

func cvEnclose(pts []image.Point) Circle {
	if len(pts) == 0 {
		return Circle{}
	}
	pv := gocv.NewPointVectorFromPoints(pts)
	defer pv.Close()
	x, y, r := gocv.MinEnclosingCircle(pv)
	return Circle{X: float64(x), Y: float64(y), R: float64(r)}
}

func cvReduce(crop *image.Gray, w, h int) *image.Gray {
	mat, err := gocv.ImageGrayToMatGray(crop)
	if err != nil {
		return giftReduce(crop, w, h)
	}
	defer mat.Close()
	smooth := gocv.NewMat()
	defer smooth.Close()
	gocv.MedianBlur(mat, &smooth, ReduceMedianSize)
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(smooth, &small, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
	out, ok := toGray(small)
	if !ok {
		return giftReduce(crop, w, h)
	}
	return out
}
