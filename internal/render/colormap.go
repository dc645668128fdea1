// Package render draws the diagnostic figures as PNG files.
package render

import (
	"image/color"
	"math"

	"gonum.org/v1/plot/palette"
)

// Colormap is a piecewise-linear colour ramp over [0,1].
type Colormap struct {
	Stops []color.RGBA
}

func rgb(r, g, b float64) color.RGBA {
	return color.RGBA{R: uint8(math.Round(r * 255)), G: uint8(math.Round(g * 255)), B: uint8(math.Round(b * 255)), A: 255}
}

// Diverging is the blue-white-red ramp used for anomaly maps.
var Diverging = Colormap{Stops: []color.RGBA{
	rgb(0.16048622, 0.22842497, 0.55420386),
	rgb(0.09884412, 0.32190111, 0.73617986),
	rgb(0.08481877, 0.43940606, 0.73613168),
	rgb(0.52418488, 0.69527879, 0.75528737),
	rgb(0.68147106, 0.77010319, 0.80092296),
	rgb(1, 1, 1),
	rgb(0.90689709, 0.68154344, 0.62377885),
	rgb(0.8693981, 0.55654448, 0.4667218),
	rgb(0.78924224, 0.31139994, 0.20148645),
	rgb(0.72467839, 0.16813609, 0.14138745),
	rgb(0.608005, 0.06275633, 0.16024132),
}}

// At returns the colour at t, clamped to [0,1].
func (c Colormap) At(t float64) color.RGBA {
	n := len(c.Stops)
	if n == 0 {
		return color.RGBA{A: 255}
	}
	if n == 1 || t <= 0 || math.IsNaN(t) {
		return c.Stops[0]
	}
	if t >= 1 {
		return c.Stops[n-1]
	}
	pos := t * float64(n-1)
	i := int(pos)
	f := pos - float64(i)
	a, b := c.Stops[i], c.Stops[i+1]
	mix := func(x, y uint8) uint8 { return uint8(math.Round(float64(x) + f*(float64(y)-float64(x)))) }
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

// Levels maps contour levels onto the ramp. Levels are spread evenly
// along the ramp regardless of their spacing, so unevenly spaced levels
// stretch the colours where levels are dense. One colour is returned per
// interval between consecutive levels.
func (c Colormap) Levels(levels []float64) []color.Color {
	if len(levels) < 2 {
		return nil
	}
	out := make([]color.Color, len(levels)-1)
	for i := range out {
		// interval midpoints in level-index space
		t := (float64(i) + 0.5) / float64(len(levels)-1)
		out[i] = c.At(t)
	}
	return out
}

type discrete []color.Color

func (d discrete) Colors() []color.Color { return d }

// Palette returns a gonum palette with one colour per level interval.
func (c Colormap) Palette(levels []float64) palette.Palette {
	return discrete(c.Levels(levels))
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

// Index returns the interval of levels that v falls in, clamped to the
// outer intervals.
func Index(levels []float64, v float64) int {
	last := len(levels) - 2
	if last < 0 {
		return 0
	}
	for i := 0; i <= last; i++ {
		if v < levels[i+1] {
			return i
		}
	}
	return last
}
