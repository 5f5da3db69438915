package artifacts

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// MarkerRadius is the radius of the ring drawn around an acted element.
const MarkerRadius = 15

var (
	ringColor  = color.RGBA{66, 133, 244, 255}
	crossColor = color.RGBA{219, 68, 55, 255}
)

// Mark returns a copy of frame with a ring centred on (x, y). Points outside
// the frame are clipped.
func Mark(frame image.Image, x, y int) *image.RGBA {
	bounds := frame.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, frame, bounds.Min, draw.Src)

	drawRing(out, x, y, MarkerRadius)
	drawRing(out, x, y, MarkerRadius-1)
	drawLine(out, x-4, y, x+4, y, crossColor)
	drawLine(out, x, y-4, x, y+4, crossColor)
	return out
}

func drawRing(img *image.RGBA, x, y, radius int) {
	for angle := 0.0; angle < 360; angle++ {
		rad := angle * math.Pi / 180
		px := x + int(math.Round(float64(radius)*math.Cos(rad)))
		py := y + int(math.Round(float64(radius)*math.Sin(rad)))
		setPixelSafe(img, px, py, ringColor)
	}
}

// drawLine is Bresenham's algorithm.
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy
	for {
		setPixelSafe(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func setPixelSafe(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
