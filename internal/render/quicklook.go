package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lox/qmodes/internal/ncio"
)

// QuickLookOptions controls the raster preview of a [lat, lon] field.
type QuickLookOptions struct {
	Title  string
	Levels []float64
	Width  int // output width in pixels; height follows the grid aspect
}

const (
	titleHeight    = 24
	colorbarHeight = 14
)

// QuickLook renders a field as a shaded PNG without axes: one cell per
// grid point, scaled up to the requested width, with a title strip on
// top and a colour bar below. Longitudes are wrapped to [-180, 180) and
// north is up.
func QuickLook(field *ncio.Array, lat, lon []float64, opts QuickLookOptions) ([]byte, error) {
	g, err := NewLatLonGrid(field, lat, lon)
	if err != nil {
		return nil, err
	}
	if len(opts.Levels) < 2 {
		return nil, fmt.Errorf("need at least 2 levels")
	}
	colors := Diverging.Levels(opts.Levels)

	cols, rows := g.Dims()
	cells := image.NewRGBA(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := g.Z(c, r)
			col := color.RGBA{R: 128, G: 128, B: 128, A: 255}
			if !math.IsNaN(v) {
				col = colors[Index(opts.Levels, v)].(color.RGBA)
			}
			// image rows run top-down, grid rows south-north
			cells.SetRGBA(c, rows-1-r, col)
		}
	}

	width := opts.Width
	if width <= 0 {
		width = 2 * cols
	}
	mapHeight := int(math.Round(float64(width) * float64(rows) / float64(cols)))
	if mapHeight < 1 {
		mapHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, titleHeight+mapHeight+colorbarHeight))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	mapRect := image.Rect(0, titleHeight, width, titleHeight+mapHeight)
	xdraw.NearestNeighbor.Scale(dst, mapRect, cells, cells.Bounds(), xdraw.Src, nil)

	drawColorbar(dst, image.Rect(0, titleHeight+mapHeight, width, dst.Bounds().Max.Y), colors)
	if opts.Title != "" {
		drawText(dst, opts.Title, 6, titleHeight-7, color.Black, basicfont.Face7x13)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode quick look: %w", err)
	}
	return buf.Bytes(), nil
}

func drawColorbar(img *image.RGBA, rect image.Rectangle, colors []color.Color) {
	w := rect.Dx()
	for x := 0; x < w; x++ {
		c := colors[x*len(colors)/w]
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			img.Set(rect.Min.X+x, y, c)
		}
	}
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
