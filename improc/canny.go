package improc

import (
	"image"
)

// the image operations Locate and Reduce are built from; the gocv build
// replaces them with OpenCV's
var (
	defaultEdges EdgeDetector = Canny
	locateMedian              = Median
	enclose                   = MinEnclosingCircle
	reduceCrop                = giftReduce
)

const (
	tan22 = 0.41421356 // tan(22.5 deg)
	tan67 = 2.41421356 // tan(67.5 deg)
)

// Canny detects edges with 3x3 Sobel gradients, L1 gradient magnitude,
// non-maximum suppression, and hysteresis between low and high.  It returns
// the coordinates of every edge pixel, relative to the image origin.
func Canny(img *image.Gray, low, high float64) []image.Point {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	// replicate the border
	px := func(x, y int) int {
		x = clampIdx(x, w)
		y = clampIdx(y, h)
		return int(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}
	mag := make([]int, w*h)
	sector := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)
			gy := px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)
			ax, ay := absInt(gx), absInt(gy)
			i := y*w + x
			mag[i] = ax + ay
			switch {
			case float64(ay) <= float64(ax)*tan22:
				sector[i] = 0
			case float64(ay) >= float64(ax)*tan67:
				sector[i] = 2
			case gx*gy > 0:
				sector[i] = 1
			default:
				sector[i] = 3
			}
		}
	}
	m := func(x, y int) int {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		none = iota
		weak
		strong
	)
	class := make([]uint8, w*h)
	stack := make([]int, 0, 64)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			v := mag[i]
			if float64(v) <= low {
				continue
			}
			var n1, n2 int
			switch sector[i] {
			case 0:
				n1, n2 = m(x-1, y), m(x+1, y)
			case 2:
				n1, n2 = m(x, y-1), m(x, y+1)
			case 1:
				n1, n2 = m(x-1, y-1), m(x+1, y+1)
			default:
				n1, n2 = m(x+1, y-1), m(x-1, y+1)
			}
			if !(v > n1 && v >= n2) {
				continue
			}
			if float64(v) > high {
				class[i] = strong
				stack = append(stack, i)
			} else {
				class[i] = weak
			}
		}
	}
	// hysteresis: weak pixels survive if 8-connected to a strong one
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				xx, yy := x+dx, y+dy
				if xx < 0 || yy < 0 || xx >= w || yy >= h {
					continue
				}
				j := yy*w + xx
				if class[j] == weak {
					class[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}
	var pts []image.Point
	for i, c := range class {
		if c == strong {
			pts = append(pts, image.Pt(i%w, i/w))
		}
	}
	return pts
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
