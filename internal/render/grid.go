package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/lox/qmodes/internal/ncio"
)

// LatLonGrid exposes a [lat, lon] field as plotter.GridXYZ with
// ascending axes and longitudes wrapped into [-180, 180).
type LatLonGrid struct {
	lat   []float64
	lon   []float64
	rows  []int // plot row -> field latitude index
	cols  []int // plot column -> field longitude index
	field *ncio.Array
}

func NewLatLonGrid(field *ncio.Array, lat, lon []float64) (*LatLonGrid, error) {
	if field.Rank() != 2 || field.Shape[0] != len(lat) || field.Shape[1] != len(lon) {
		return nil, fmt.Errorf("field shape %v does not match %d lat x %d lon", field.Shape, len(lat), len(lon))
	}
	g := &LatLonGrid{field: field}

	g.rows = make([]int, len(lat))
	for i := range g.rows {
		g.rows[i] = i
	}
	sort.SliceStable(g.rows, func(a, b int) bool { return lat[g.rows[a]] < lat[g.rows[b]] })
	for _, r := range g.rows {
		g.lat = append(g.lat, lat[r])
	}

	wrapped := make([]float64, len(lon))
	g.cols = make([]int, len(lon))
	for i, l := range lon {
		if l >= 180 {
			l -= 360
		}
		wrapped[i] = l
		g.cols[i] = i
	}
	sort.SliceStable(g.cols, func(a, b int) bool { return wrapped[g.cols[a]] < wrapped[g.cols[b]] })
	for _, c := range g.cols {
		g.lon = append(g.lon, wrapped[c])
	}
	return g, nil
}

func (g *LatLonGrid) Dims() (c, r int) { return len(g.lon), len(g.lat) }
func (g *LatLonGrid) X(c int) float64  { return g.lon[c] }
func (g *LatLonGrid) Y(r int) float64  { return g.lat[r] }
func (g *LatLonGrid) Z(c, r int) float64 {
	return g.field.At(g.rows[r], g.cols[c])
}

// Window is a latitude/longitude box, longitudes in [-180, 180).
type Window struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// GlobalWindow covers the whole sphere.
var GlobalWindow = Window{LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180}

// RegionalWindow is the default regional map, 20N to 70N and 135W to
// 60W.
var RegionalWindow = Window{LatMin: 20, LatMax: 70, LonMin: -135, LonMax: -60}

func (w Window) IsZero() bool { return w == Window{} }

func (w Window) Validate() error {
	if w.LatMin >= w.LatMax || w.LonMin >= w.LonMax {
		return fmt.Errorf("window %v is empty", w)
	}
	if w.LatMin < -90 || w.LatMax > 90 || w.LonMin < -180 || w.LonMax > 180 {
		return fmt.Errorf("window %v outside [-90,90]x[-180,180]", w)
	}
	return nil
}

// Crop returns a grid holding only the rows and columns inside w.
func (g *LatLonGrid) Crop(w Window) (*LatLonGrid, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	out := &LatLonGrid{field: g.field}
	for r, lat := range g.lat {
		if lat >= w.LatMin && lat <= w.LatMax {
			out.lat = append(out.lat, lat)
			out.rows = append(out.rows, g.rows[r])
		}
	}
	for c, lon := range g.lon {
		if lon >= w.LonMin && lon <= w.LonMax {
			out.lon = append(out.lon, lon)
			out.cols = append(out.cols, g.cols[c])
		}
	}
	if len(out.lat) < 2 || len(out.lon) < 2 {
		return nil, fmt.Errorf("window %v holds %d lat x %d lon points, need at least 2x2", w, len(out.lat), len(out.lon))
	}
	return out, nil
}

// saveTiles lays plots out in a rows x cols grid and writes a PNG.
func saveTiles(plots [][]*plot.Plot, w, h vg.Length, path string) error {
	rows := len(plots)
	if rows == 0 {
		return fmt.Errorf("no plots")
	}
	cols := len(plots[0])

	img := vgimg.New(w, h)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      rows,
		Cols:      cols,
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			if plots[j][i] != nil {
				plots[j][i].Draw(canvases[j][i])
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
