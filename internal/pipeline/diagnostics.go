package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lox/qmodes/internal/diag"
	"github.com/lox/qmodes/internal/modes"
	"github.com/lox/qmodes/internal/ncio"
	"github.com/lox/qmodes/internal/render"
)

// DiagOptions select the analysis the diagnostics are drawn from.
type DiagOptions struct {
	Date       string          `json:"date"`
	Background diag.Background `json:"background"`
	// ERAFile and QModesFile default to the date's ERA5 file and its
	// full-spectrum qmodes file.
	ERAFile    string `json:"era_file,omitempty"`
	QModesFile string `json:"qmodes_file,omitempty"`
}

type analysis struct {
	comps *diag.Components
	lat   []float64
	lon   []float64
}

func (r *Runner) loadAnalysis(ctx context.Context, o DiagOptions) (*analysis, error) {
	date, err := modes.ParseDate(o.Date)
	if err != nil {
		return nil, err
	}
	eraPath := o.ERAFile
	if eraPath == "" {
		eraPath = r.ERAFile(date)
	}
	qmPath := o.QModesFile
	if qmPath == "" {
		qmPath = filepath.Join(r.Config.Paths().QModes, modes.QModesFile(o.Date, false, 0, r.Config.NK))
	}

	ef, err := ncio.Open(eraPath)
	if err != nil {
		return nil, err
	}
	defer ef.Close()
	q, err := ef.Array("q")
	if err != nil {
		return nil, err
	}
	// a single analysis time is expected
	if q.Rank() == 4 {
		q = q.Sub(0)
	}
	a := &analysis{}
	plev, err := ef.Vector("plev")
	if err != nil {
		return nil, err
	}
	if a.lat, err = ef.Vector("lat"); err != nil {
		return nil, err
	}
	if a.lon, err = ef.Vector("lon"); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mf, err := ncio.Open(qmPath)
	if err != nil {
		return nil, err
	}
	defer mf.Close()
	species := make(map[modes.Species]*ncio.Array, len(modes.AllSpecies))
	for _, s := range modes.AllSpecies {
		if species[s], err = mf.Array(modes.QVar(s)); err != nil {
			return nil, err
		}
	}

	a.comps, err = diag.Decompose(q, plev, species, o.Background)
	if err != nil {
		return nil, fmt.Errorf("decompose %s: %w", o.Date, err)
	}
	r.logger().Debug("loaded analysis", "era", eraPath, "qmodes", qmPath, "background", o.Background)
	return a, nil
}

func (r *Runner) plotPath(name string) string {
	return filepath.Join(r.Config.Paths().Plots, name)
}

type VarianceOptions struct {
	DiagOptions
	// Levels are pressure level indices, one curve each.
	Levels []int `json:"levels"`
}

// DefaultVarianceLevels are the level indices drawn when none are given.
var DefaultVarianceLevels = []int{95, 82}

// Variance writes the per-latitude variance of qERA, qROT, qIG and qM at
// each requested level as a NetCDF file and a 2x2 figure. It returns the
// figure path.
func (r *Runner) Variance(ctx context.Context, opts VarianceOptions) (string, error) {
	if len(opts.Levels) == 0 {
		opts.Levels = DefaultVarianceLevels
	}
	return r.Track(StageVariance, opts.Date, "", opts, func(string) (string, error) {
		return r.variance(ctx, opts)
	})
}

func (r *Runner) variance(ctx context.Context, opts VarianceOptions) (string, error) {
	a, err := r.loadAnalysis(ctx, opts.DiagOptions)
	if err != nil {
		return "", err
	}

	var curves []render.VarianceCurve
	fields := map[string]*ncio.Array{}
	var plevs []float64
	nlat := len(a.lat)
	for li, iplev := range opts.Levels {
		lf, err := a.comps.Level(iplev)
		if err != nil {
			return "", err
		}
		plevs = append(plevs, lf.Plev)
		for _, nf := range lf.Named() {
			v, err := diag.LatVariance(nf.Field)
			if err != nil {
				return "", fmt.Errorf("%s: %w", nf.Name, err)
			}
			curves = append(curves, render.VarianceCurve{Field: nf.Name, Plev: lf.Plev, Variance: v})
			if fields[nf.Name] == nil {
				fields[nf.Name] = ncio.NewArray(len(opts.Levels), nlat)
			}
			copy(fields[nf.Name].Sub(li).Data, v)
		}
	}

	ds := &ncio.Dataset{Attrs: r.provenance()}
	ds.Add(ncio.Coord("plev", plevs))
	ds.Add(ncio.Coord("lat", a.lat))
	for _, name := range []string{"qERA", "qROT", "qIG", "qM"} {
		ds.Add(ncio.Variable{
			Name:  name + "_variance",
			Dims:  []string{"plev", "lat"},
			Array: fields[name],
			Attrs: []ncio.Attr{
				{Key: "units", Value: "g2 kg-2"},
				{Key: "long_name", Value: fmt.Sprintf("zonal variance of %s anomaly", name)},
			},
		})
	}
	if err := ncio.Write(r.plotPath(fmt.Sprintf("qM_lat_variance_%s.nc", opts.Date)), ds); err != nil {
		return "", err
	}

	out := r.plotPath(fmt.Sprintf("qM_lat_variance_%s.png", opts.Date))
	if err := render.VarianceFigure(curves, a.lat, out); err != nil {
		return "", err
	}
	return out, nil
}

type BandsOptions struct {
	DiagOptions
	Level int         `json:"level"`
	Bands []diag.Band `json:"bands,omitempty"`
	// Latitudes are latitude indices whose single-row profile and
	// spectrum are drawn next to the bands.
	Latitudes []int `json:"latitudes,omitempty"`
	// KMax is the largest wavenumber shown in the spectra.
	KMax int `json:"k_max"`
}

// Bands compares band-averaged longitude profiles and their spectra at
// one level, and draws the anomaly maps with the bands shaded. It
// returns the spectra figure path.
func (r *Runner) Bands(ctx context.Context, opts BandsOptions) (string, error) {
	if len(opts.Bands) == 0 {
		opts.Bands = diag.DefaultBands
	}
	if opts.KMax <= 0 {
		opts.KMax = 50
	}
	return r.Track(StageBands, opts.Date, "", opts, func(string) (string, error) {
		return r.bands(ctx, opts)
	})
}

func (r *Runner) bands(ctx context.Context, opts BandsOptions) (string, error) {
	a, err := r.loadAnalysis(ctx, opts.DiagOptions)
	if err != nil {
		return "", err
	}
	lf, err := a.comps.Level(opts.Level)
	if err != nil {
		return "", err
	}
	spectral := append([]diag.Band(nil), opts.Bands...)
	for _, ilat := range opts.Latitudes {
		b, err := diag.LatitudeBand(a.lat, ilat)
		if err != nil {
			return "", err
		}
		spectral = append(spectral, b)
	}
	profiles, err := diag.BandProfiles(lf.Named(), spectral)
	if err != nil {
		return "", err
	}

	maps := r.plotPath(fmt.Sprintf("qMODES_Fourier_Regional_Contours_%s_plev%d.png", opts.Date, opts.Level))
	if err := render.ContourFigure(render.DefaultContourPanels(lf), a.lat, a.lon, render.MapOptions{Bands: opts.Bands}, maps); err != nil {
		return "", err
	}
	out := r.plotPath(fmt.Sprintf("qMODES_Fourier_Regional_FFT_%s_plev%d.png", opts.Date, opts.Level))
	if err := render.BandFigure(profiles, a.lon, opts.KMax, out); err != nil {
		return "", err
	}
	return out, nil
}

type ContourOptions struct {
	DiagOptions
	Level int `json:"level"`
	// Window crops the maps to a region; the zero value draws the globe.
	Window render.Window `json:"window"`
	// QuickLookWidth, when positive, also writes a raster preview of
	// each panel at that width.
	QuickLookWidth int `json:"quicklook_width,omitempty"`
}

// Contour draws the 2x2 anomaly maps at one level, globally or over a
// window.
func (r *Runner) Contour(ctx context.Context, opts ContourOptions) (string, error) {
	if !opts.Window.IsZero() {
		if err := opts.Window.Validate(); err != nil {
			return "", err
		}
	}
	return r.Track(StageContour, opts.Date, "", opts, func(string) (string, error) {
		return r.contour(ctx, opts)
	})
}

func (r *Runner) contour(ctx context.Context, opts ContourOptions) (string, error) {
	a, err := r.loadAnalysis(ctx, opts.DiagOptions)
	if err != nil {
		return "", err
	}
	lf, err := a.comps.Level(opts.Level)
	if err != nil {
		return "", err
	}
	panels := render.DefaultContourPanels(lf)

	name := fmt.Sprintf("Global_qMODES_%s_plev%.0f.png", opts.Date, lf.Plev)
	if !opts.Window.IsZero() {
		name = fmt.Sprintf("Regional_qMODES_%s_plev%.0f.png", opts.Date, lf.Plev)
	}
	out := r.plotPath(name)
	if err := render.ContourFigure(panels, a.lat, a.lon, render.MapOptions{Window: opts.Window}, out); err != nil {
		return "", err
	}

	if opts.QuickLookWidth > 0 {
		dir := r.plotPath("quicklook")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create quicklook dir: %w", err)
		}
		for _, p := range panels {
			img, err := render.QuickLook(p.Field.Field, a.lat, a.lon, render.QuickLookOptions{
				Title:  p.Title,
				Levels: p.Levels,
				Width:  opts.QuickLookWidth,
			})
			if err != nil {
				return "", fmt.Errorf("quicklook %s: %w", p.Field.Name, err)
			}
			name := fmt.Sprintf("%s_%s_plev%.0f.png", p.Field.Name, opts.Date, lf.Plev)
			if err := os.WriteFile(filepath.Join(dir, name), img, 0644); err != nil {
				return "", fmt.Errorf("write quicklook: %w", err)
			}
		}
	}
	return out, nil
}

type DispersionOptions struct {
	// Dir and Prefix locate the frequency files <Prefix>.wnKKK. Dir
	// defaults to the Hough directory.
	Dir    string `json:"dir,omitempty"`
	Prefix string `json:"prefix"`
	// K is the number of zonal wavenumbers drawn.
	K int `json:"k"`
	// Mode is the vertical mode index.
	Mode int `json:"mode"`
	// N are the meridional modes drawn besides the n=0 branches.
	N []int `json:"n"`
}

// DefaultDispersionModes are the meridional modes drawn when none are
// given.
var DefaultDispersionModes = []int{1, 5, 10, 15, 20, 25}

// Dispersion draws the normalized eigenfrequencies against zonal
// wavenumber.
func (r *Runner) Dispersion(ctx context.Context, opts DispersionOptions) (string, error) {
	if opts.Dir == "" {
		opts.Dir = r.Config.Paths().Hough
	}
	if opts.K <= 0 {
		opts.K = 30
	}
	if len(opts.N) == 0 {
		opts.N = DefaultDispersionModes
	}
	return r.Track(StageDispersion, "", "", opts, func(string) (string, error) {
		return r.dispersion(ctx, opts)
	})
}

func (r *Runner) dispersion(ctx context.Context, opts DispersionOptions) (string, error) {
	if opts.Prefix == "" {
		return "", fmt.Errorf("frequency file prefix is required")
	}
	if opts.Mode < 0 || opts.Mode >= r.Config.NM {
		return "", fmt.Errorf("vertical mode %d outside [0,%d)", opts.Mode, r.Config.NM)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	freqs, err := diag.ReadFrequencies(opts.Dir, opts.Prefix, opts.K, r.Config.NM, r.Config.NN)
	if err != nil {
		return "", err
	}
	out := r.plotPath("DispersionRelationsByMode.png")
	if err := render.DispersionFigure(freqs.Dispersion(opts.Mode, opts.N), opts.K, out); err != nil {
		return "", err
	}
	return out, nil
}
