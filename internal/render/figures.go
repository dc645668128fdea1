package render

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/lox/qmodes/internal/diag"
	"github.com/lox/qmodes/internal/modes"
)

// Line colours per field, shared by every figure.
var fieldColors = map[string]color.Color{
	"qERA": color.RGBA{B: 255, A: 255},
	"qROT": color.RGBA{G: 128, A: 255},
	"qIG":  color.RGBA{R: 255, G: 165, A: 255},
	"qM":   color.RGBA{R: 255, A: 255},
}

var seriesColors = []color.Color{
	color.RGBA{R: 255, A: 255},
	color.RGBA{G: 128, A: 255},
	color.RGBA{B: 255, A: 255},
	color.RGBA{R: 218, G: 165, B: 32, A: 255},
	color.RGBA{G: 255, B: 255, A: 255},
	color.RGBA{R: 147, G: 112, B: 219, A: 255},
	color.RGBA{R: 255, B: 255, A: 255},
	color.RGBA{A: 255},
	color.RGBA{R: 128, G: 128, B: 128, A: 255},
	color.RGBA{R: 255, G: 140, A: 255},
}

// ContourPanel is one anomaly map with its colour levels.
type ContourPanel struct {
	Title  string
	Field  diag.NamedField
	Levels []float64
}

// DefaultContourPanels are the four anomaly panels with the level ranges
// (g/kg) used for the global maps.
func DefaultContourPanels(lf *diag.LevelFields) []ContourPanel {
	named := lf.Named()
	return []ContourPanel{
		{Title: "a)  q_ERA (anomaly) [g/kg]", Field: named[0], Levels: Linspace(-10, 10, 21)},
		{Title: "b)  q_ROT (anomaly) [g/kg]", Field: named[1], Levels: Linspace(-4, 4, 21)},
		{Title: "c)  q_IG (anomaly) [g/kg]", Field: named[2], Levels: Linspace(-2, 2, 21)},
		{Title: "d)  q_M (anomaly) [g/kg]", Field: named[3], Levels: Linspace(-10, 10, 21)},
	}
}

// MapOptions control the extent and overlays of ContourFigure.
type MapOptions struct {
	// Bands are shaded as latitude strips.
	Bands []diag.Band
	// Window crops the maps; the zero value draws the whole globe.
	Window Window
}

// ContourFigure draws up to four anomaly maps in a 2x2 grid.
func ContourFigure(panels []ContourPanel, lat, lon []float64, opts MapOptions, path string) error {
	if len(panels) == 0 || len(panels) > 4 {
		return fmt.Errorf("need 1 to 4 panels, have %d", len(panels))
	}
	w := opts.Window
	if w.IsZero() {
		w = GlobalWindow
	}
	plots := [][]*plot.Plot{make([]*plot.Plot, 2), make([]*plot.Plot, 2)}
	for i, panel := range panels {
		full, err := NewLatLonGrid(panel.Field.Field, lat, lon)
		if err != nil {
			return fmt.Errorf("%s: %w", panel.Field.Name, err)
		}
		g, err := full.Crop(w)
		if err != nil {
			return fmt.Errorf("%s: %w", panel.Field.Name, err)
		}
		pal := Diverging.Palette(panel.Levels)
		colors := pal.Colors()
		hm := plotter.NewHeatMap(g, pal)
		hm.Min = panel.Levels[0]
		hm.Max = panel.Levels[len(panel.Levels)-1]
		hm.Underflow = colors[0]
		hm.Overflow = colors[len(colors)-1]

		p := plot.New()
		p.Title.Text = panel.Title
		p.X.Label.Text = "Longitude"
		p.Y.Label.Text = "Latitude"
		p.X.Min, p.X.Max = w.LonMin, w.LonMax
		p.Y.Min, p.Y.Max = w.LatMin, w.LatMax
		p.Add(hm)

		for _, b := range opts.Bands {
			poly, err := bandPolygon(lat, b, w, fieldColors[panel.Field.Name])
			if err != nil {
				return err
			}
			p.Add(poly)
		}
		plots[i/2][i%2] = p
	}
	return saveTiles(plots, 30*vg.Centimeter, 15*vg.Centimeter, path)
}

func bandPolygon(lat []float64, b diag.Band, w Window, c color.Color) (*plotter.Polygon, error) {
	if b.Lo < 0 || b.Hi >= len(lat) {
		return nil, fmt.Errorf("band %s outside latitude grid", b.Name)
	}
	lo, hi := lat[b.Lo], lat[b.Hi]
	poly, err := plotter.NewPolygon(plotter.XYs{{X: w.LonMin, Y: lo}, {X: w.LonMin, Y: hi}, {X: w.LonMax, Y: hi}, {X: w.LonMax, Y: lo}})
	if err != nil {
		return nil, fmt.Errorf("band polygon: %w", err)
	}
	if c == nil {
		c = color.Black
	}
	r, g, bl, _ := c.RGBA()
	poly.Color = color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: 51}
	poly.LineStyle.Color = color.Black
	poly.LineStyle.Width = vg.Points(0.5)
	return poly, nil
}

// VarianceCurve is the latitude variance of one field at one level.
type VarianceCurve struct {
	Field    string
	Plev     float64
	Variance []float64
}

// VarianceFigure draws one panel per field (qERA, qROT, qIG, qM) with a
// curve per pressure level.
func VarianceFigure(curves []VarianceCurve, lat []float64, path string) error {
	order := []string{"qERA", "qROT", "qIG", "qM"}
	tags := []string{"a)", "b)", "c)", "d)"}
	plots := [][]*plot.Plot{make([]*plot.Plot, 2), make([]*plot.Plot, 2)}

	for i, field := range order {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s  %s Variance", tags[i], field)
		p.Y.Label.Text = "Variance [g^2 / kg^2]"
		p.X.Label.Text = "Latitude"
		p.Legend.Top = true

		n := 0
		for _, c := range curves {
			if c.Field != field {
				continue
			}
			if len(c.Variance) != len(lat) {
				return fmt.Errorf("%s variance has %d points for %d latitudes", field, len(c.Variance), len(lat))
			}
			pts := make(plotter.XYs, len(lat))
			for j := range lat {
				pts[j] = plotter.XY{X: lat[j], Y: c.Variance[j]}
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return fmt.Errorf("variance line: %w", err)
			}
			line.Color = seriesColors[n%len(seriesColors)]
			p.Add(line)
			p.Legend.Add(fmt.Sprintf("plev -- %.1f hPa", c.Plev/100), line)
			n++
		}
		plots[i/2][i%2] = p
	}
	return saveTiles(plots, 30*vg.Centimeter, 20*vg.Centimeter, path)
}

// BandFigure draws band-averaged longitude profiles on the top row and
// their spectra (log scale, wavenumbers up to kmax) below, one column per
// band.
func BandFigure(profiles []diag.BandProfile, lon []float64, kmax int, path string) error {
	var bands []diag.Band
	seen := map[string]bool{}
	for _, bp := range profiles {
		if !seen[bp.Band.Name] {
			seen[bp.Band.Name] = true
			bands = append(bands, bp.Band)
		}
	}
	if len(bands) == 0 {
		return fmt.Errorf("no band profiles")
	}

	top := make([]*plot.Plot, len(bands))
	bottom := make([]*plot.Plot, len(bands))
	for i, b := range bands {
		pp := plot.New()
		pp.Title.Text = fmt.Sprintf("%c)  %s Profiles", 'a'+i, b.Name)
		pp.X.Label.Text = "Longitude [deg]"
		pp.Y.Label.Text = "Averaged q Anomalies [g/kg]"

		sp := plot.New()
		sp.Title.Text = fmt.Sprintf("%c)  %s FFTs", 'a'+len(bands)+i, b.Name)
		sp.X.Label.Text = "Wavenumber k"
		sp.Y.Label.Text = "FFT Amplitude"
		sp.Y.Scale = plot.LogScale{}
		sp.Y.Tick.Marker = plot.LogTicks{Prec: -1}
		sp.X.Min, sp.X.Max = 0, float64(kmax)

		for _, bp := range profiles {
			if bp.Band.Name != b.Name {
				continue
			}
			c := fieldColors[bp.Field]
			if c == nil {
				c = color.Black
			}
			if len(bp.Profile) != len(lon) {
				return fmt.Errorf("%s profile has %d points for %d longitudes", bp.Field, len(bp.Profile), len(lon))
			}
			prof := make(plotter.XYs, len(lon))
			for j := range lon {
				prof[j] = plotter.XY{X: lon[j], Y: bp.Profile[j]}
			}
			line, err := plotter.NewLine(prof)
			if err != nil {
				return fmt.Errorf("profile line: %w", err)
			}
			line.Color = c
			pp.Add(line)
			pp.Legend.Add(bp.Field, line)

			var curve plotter.XYs
			for k, v := range bp.Spectrum {
				if k > kmax || v <= 0 {
					continue
				}
				curve = append(curve, plotter.XY{X: float64(k), Y: v})
			}
			if len(curve) == 0 {
				continue
			}
			sl, err := plotter.NewLine(curve)
			if err != nil {
				return fmt.Errorf("spectrum line: %w", err)
			}
			sl.Color = c
			sp.Add(sl)
			sp.Legend.Add(bp.Field+"_FFT", sl)
		}
		top[i] = pp
		bottom[i] = sp
	}
	return saveTiles([][]*plot.Plot{top, bottom}, 35*vg.Centimeter, 20*vg.Centimeter, path)
}

var speciesColors = map[modes.Species]color.Color{
	modes.EIG: color.RGBA{B: 255, A: 255},
	modes.WIG: color.RGBA{R: 255, A: 255},
	modes.BAL: color.RGBA{A: 255},
}

var kelvinMRGColor = color.RGBA{R: 255, B: 255, A: 255}

// DispersionFigure scatters log10 frequency against signed zonal
// wavenumber, with the moist (zero frequency) branch in a strip below.
func DispersionFigure(series []diag.DispersionSeries, kmax int, path string) error {
	p := plot.New()
	p.Y.Label.Text = "Normalized Frequency (log10)"
	p.X.Min, p.X.Max = -float64(kmax), float64(kmax)
	p.Y.Min, p.Y.Max = -2.75, 1.75

	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(s.Points))
		for i, pt := range s.Points {
			pts[i] = plotter.XY{X: pt.K, Y: pt.LogNu}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("dispersion scatter: %w", err)
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		c := speciesColors[s.Species]
		// Kelvin (EIG n=0) and MRG (BAL n=0) stand out
		if s.N == 0 && s.Species != modes.WIG {
			c = kelvinMRGColor
		}
		sc.GlyphStyle.Color = c
		p.Add(sc)
	}

	for _, lbl := range []struct {
		text string
		x, y float64
		c    color.Color
	}{
		{"K", 10, 0.15, kelvinMRGColor},
		{"MRG", -20, -1, kelvinMRGColor},
		{"ROT", -10, -2.5, speciesColors[modes.BAL]},
		{"WIG", -14, 1.35, speciesColors[modes.WIG]},
		{"EIG", 10, 1.35, speciesColors[modes.EIG]},
	} {
		labels, err := plotter.NewLabels(plotter.XYLabels{
			XYs:    []plotter.XY{{X: lbl.x, Y: lbl.y}},
			Labels: []string{lbl.text},
		})
		if err != nil {
			return fmt.Errorf("dispersion labels: %w", err)
		}
		labels.TextStyle[0].Color = lbl.c
		p.Add(labels)
	}

	moist := plot.New()
	moist.X.Label.Text = "Zonal Wavenumber"
	moist.X.Min, moist.X.Max = -float64(kmax), float64(kmax)
	moist.Y.Min, moist.Y.Max = -0.02, 0.02
	var zero plotter.XYs
	for k := -kmax + 1; k < kmax; k++ {
		zero = append(zero, plotter.XY{X: float64(k)})
	}
	sc, err := plotter.NewScatter(zero)
	if err != nil {
		return fmt.Errorf("moist scatter: %w", err)
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(1.5)
	sc.GlyphStyle.Color = color.RGBA{R: 46, G: 139, B: 87, A: 255}
	moist.Add(sc)
	moist.Legend.Add("Moist (M)", sc)

	return saveTiles([][]*plot.Plot{{p}, {moist}}, 40*vg.Centimeter, 25*vg.Centimeter, path)
}
