package improc

import (
	"image"
	"math"
	"math/rand"
)

// Circle is a center and radius
type Circle struct {
	X, Y, R float64
}

func (c Circle) contains(p image.Point) bool {
	dx, dy := float64(p.X)-c.X, float64(p.Y)-c.Y
	return math.Hypot(dx, dy) <= c.R*(1+1e-9)+1e-9
}

// MinEnclosingCircle returns the smallest circle containing every point, by
// Welzl's algorithm over a shuffled copy of pts.  The shuffle is seeded so the
// result is reproducible.  No points yields the zero Circle.
func MinEnclosingCircle(pts []image.Point) Circle {
	if len(pts) == 0 {
		return Circle{}
	}
	p := make([]image.Point, len(pts))
	copy(p, pts)
	rand.New(rand.NewSource(1)).Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] })

	c := Circle{X: float64(p[0].X), Y: float64(p[0].Y)}
	for i := 1; i < len(p); i++ {
		if c.contains(p[i]) {
			continue
		}
		c = Circle{X: float64(p[i].X), Y: float64(p[i].Y)}
		for j := 0; j < i; j++ {
			if c.contains(p[j]) {
				continue
			}
			c = diameterCircle(p[i], p[j])
			for k := 0; k < j; k++ {
				if !c.contains(p[k]) {
					c = circumcircle(p[i], p[j], p[k])
				}
			}
		}
	}
	return c
}

func diameterCircle(a, b image.Point) Circle {
	x := (float64(a.X) + float64(b.X)) / 2
	y := (float64(a.Y) + float64(b.Y)) / 2
	return Circle{X: x, Y: y, R: math.Hypot(float64(a.X)-x, float64(a.Y)-y)}
}

func circumcircle(a, b, c image.Point) Circle {
	ax, ay := float64(a.X), float64(a.Y)
	bx, by := float64(b.X), float64(b.Y)
	cx, cy := float64(c.X), float64(c.Y)
	d := 2 * (ax*(by-cy) + bx*(cy-ay) + cx*(ay-by))
	if d == 0 {
		// collinear; the widest pair spans the others
		best := diameterCircle(a, b)
		for _, alt := range []Circle{diameterCircle(a, c), diameterCircle(b, c)} {
			if alt.R > best.R {
				best = alt
			}
		}
		return best
	}
	a2, b2, c2 := ax*ax+ay*ay, bx*bx+by*by, cx*cx+cy*cy
	ux := (a2*(by-cy) + b2*(cy-ay) + c2*(ay-by)) / d
	uy := (a2*(cx-bx) + b2*(ax-cx) + c2*(bx-ax)) / d
	return Circle{X: ux, Y: uy, R: math.Hypot(ax-ux, ay-uy)}
}
