package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lox/qmodes/internal/modes"
	"github.com/lox/qmodes/internal/ncio"
)

// VSFInt integrates the vertical structure functions and writes
// vsf_int/vsf_int.data.nc.
func (r *Runner) VSFInt(ctx context.Context) (string, error) {
	return r.Track(StageVSFInt, "", "", map[string]int{"modes": r.Config.NM}, func(string) (string, error) {
		return r.vsfInt(ctx)
	})
}

func (r *Runner) vsfInt(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	paths := r.Config.Paths()

	f, err := ncio.Open(filepath.Join(paths.VSF, modes.VSFFile))
	if err != nil {
		return "", err
	}
	vsf, err := f.Array("vsf")
	if err != nil {
		f.Close()
		return "", err
	}
	vgrid, err := f.Vector("vgrid")
	f.Close()
	if err != nil {
		return "", err
	}

	nm := r.Config.NM
	integrated, vgridInt, err := modes.IntegrateVSF(vsf, vgrid, nm)
	if err != nil {
		return "", err
	}

	ds := &ncio.Dataset{Attrs: r.provenance()}
	ds.Add(ncio.Coord("vgrid_int", vgridInt))
	ds.Add(ncio.IndexCoord("vmodes", nm))
	ds.Add(ncio.Variable{
		Name:  "vsf_int",
		Dims:  []string{"num_vmode", "vgrid_int"},
		Array: integrated,
		Attrs: []ncio.Attr{
			{Key: "units", Value: "Pa"},
			{Key: "long_name", Value: "integrated vertical structure function"},
		},
	})

	out := filepath.Join(paths.VSFInt, modes.VSFIntFile)
	if err := ncio.Write(out, ds); err != nil {
		return "", err
	}
	r.logger().Info("integrated vertical structure functions", "modes", nm, "levels", len(vgrid))
	return out, nil
}

type QKOptions struct {
	Date    string        `json:"date"`
	Species modes.Species `json:"species"`
	NoMRG   bool          `json:"no_mrg"`

	// Progress, when set, is called after each zonal wavenumber.
	Progress func(k int) `json:"-"`
}

// Validate checks the flags before any input is read.
func (o QKOptions) Validate() error {
	if _, err := modes.ParseDate(o.Date); err != nil {
		return err
	}
	if _, err := modes.ParseSpecies(string(o.Species)); err != nil {
		return err
	}
	if o.NoMRG && o.Species != modes.BAL {
		return modes.ErrNoMRGNotBAL
	}
	return nil
}

// QK projects the Hough coefficients of one species onto the Fourier
// coefficients of q and appends qk_<species> to the date's qk file.
func (r *Runner) QK(ctx context.Context, opts QKOptions) (string, error) {
	return r.Track(StageQK, opts.Date, string(opts.Species), opts, func(string) (string, error) {
		return r.qk(ctx, opts)
	})
}

func (r *Runner) qk(ctx context.Context, opts QKOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	paths := r.Config.Paths()
	species := opts.Species
	log := r.logger().With("date", opts.Date, "species", species)

	if opts.NoMRG {
		if err := requireSpecies(filepath.Join(paths.QK, modes.QKFile(opts.Date, false)), modes.EIG, modes.WIG); err != nil {
			return "", err
		}
	}

	cf, err := ncio.Open(filepath.Join(paths.Coef, modes.CoefFile(opts.Date)))
	if err != nil {
		return "", err
	}
	coefs, err := cf.Array(string(species))
	cf.Close()
	if err != nil {
		return "", err
	}

	vf, err := ncio.Open(filepath.Join(paths.VSFInt, modes.VSFIntFile))
	if err != nil {
		return "", err
	}
	vsfInt, err := vf.Array("vsf_int")
	if err != nil {
		vf.Close()
		return "", err
	}
	vgridInt, err := vf.Vector("vgrid_int")
	vf.Close()
	if err != nil {
		return "", err
	}

	hough := modes.HoughDir{Dir: paths.Hough, Species: species}
	lat, err := hough.Latitudes()
	if err != nil {
		return "", err
	}

	dims := r.Config.Dims()
	log.Info("projecting", "k", dims.K, "m", dims.M, "n", dims.N, "no_mrg", opts.NoMRG)
	qk, err := modes.Project(ctx, coefs, vsfInt, hough, dims, modes.ProjectOptions{
		NoMRG: opts.NoMRG,
		Progress: func(k int) {
			if r.Metrics != nil {
				r.Metrics.WavenumbersProjected.WithLabelValues(string(species)).Inc()
			}
			if opts.Progress != nil {
				opts.Progress(k)
			}
		},
	})
	if err != nil {
		return "", err
	}
	if qk.Shape[3] != len(lat) {
		return "", fmt.Errorf("hough functions have %d latitudes, lat has %d", qk.Shape[3], len(lat))
	}

	attrs := r.provenance()
	if opts.NoMRG {
		attrs = append(attrs, ncio.Attr{Key: "noMRG", Value: "true"})
	}
	ds := &ncio.Dataset{Attrs: attrs}
	ds.Add(ncio.IndexCoord("k_mode", dims.K))
	ds.Add(ncio.Coord("vgrid_int", vgridInt))
	ds.Add(ncio.Coord("lat", lat))
	ds.Add(ncio.Variable{
		Name:  modes.QKVar(species),
		Dims:  []string{"Re+Im", "k_mode", "vgrid_int", "lat"},
		Array: qk,
		Attrs: []ncio.Attr{{Key: "long_name", Value: fmt.Sprintf("%s Part of specific humidity", species)}},
	})

	out := filepath.Join(paths.QK, modes.QKFile(opts.Date, opts.NoMRG))
	if err := ncio.Append(out, ds); err != nil {
		return "", err
	}
	if opts.NoMRG {
		log.Warn("wrote a noMRG file", "file", out)
	}
	return out, nil
}

// requireSpecies fails with ErrMissingSpecies unless path holds the qk
// variables of every species given.
func requireSpecies(path string, species ...modes.Species) error {
	f, err := ncio.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", modes.ErrMissingSpecies, err)
	}
	defer f.Close()
	for _, s := range species {
		if !f.Has(modes.QKVar(s)) {
			return fmt.Errorf("%w: %s has no %s", modes.ErrMissingSpecies, filepath.Base(path), modes.QKVar(s))
		}
	}
	return nil
}

type QModesOptions struct {
	Date   string `json:"date"`
	KLower int    `json:"k_lower"`
	NoMRG  bool   `json:"no_mrg"`
	// Grid is the file whose "lon" variable sets the output longitudes.
	// It defaults to the date's ERA5 file.
	Grid string `json:"grid,omitempty"`
}

// QModes reconstructs q for every species from the date's qk file(s)
// and writes all three into one qmodes file.
func (r *Runner) QModes(ctx context.Context, opts QModesOptions) (string, error) {
	return r.Track(StageQModes, opts.Date, "", opts, func(string) (string, error) {
		return r.qmodes(ctx, opts)
	})
}

func (r *Runner) qmodes(ctx context.Context, opts QModesOptions) (string, error) {
	date, err := modes.ParseDate(opts.Date)
	if err != nil {
		return "", err
	}
	if opts.KLower < 0 {
		return "", fmt.Errorf("k lower bound %d is negative", opts.KLower)
	}
	paths := r.Config.Paths()

	grid := opts.Grid
	if grid == "" {
		grid = r.ERAFile(date)
	}
	gf, err := ncio.Open(grid)
	if err != nil {
		return "", err
	}
	lon, err := gf.Vector("lon")
	gf.Close()
	if err != nil {
		return "", err
	}

	qkPath := filepath.Join(paths.QK, modes.QKFile(opts.Date, false))
	qf, err := ncio.Open(qkPath)
	if err != nil {
		return "", err
	}
	lat, err := qf.Vector("lat")
	if err != nil {
		qf.Close()
		return "", err
	}
	plev, err := qf.Vector("vgrid_int")
	qf.Close()
	if err != nil {
		return "", err
	}

	ds := &ncio.Dataset{Attrs: r.provenance()}
	ds.Add(ncio.Coord("plev", plev))
	ds.Add(ncio.Coord("lat", lat))
	ds.Add(ncio.Coord("lon", lon))

	nk := 0
	for _, s := range modes.AllSpecies {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		src := qkPath
		if s == modes.BAL && opts.NoMRG {
			src = filepath.Join(paths.QK, modes.QKFile(opts.Date, true))
		}
		qk, err := readQK(src, s)
		if err != nil {
			return "", err
		}
		q, err := modes.Reconstruct(qk, lon, opts.KLower)
		if err != nil {
			return "", fmt.Errorf("%s: %w", s, err)
		}
		if q.Shape[0] != len(plev) || q.Shape[1] != len(lat) {
			return "", fmt.Errorf("%s: qk grid %dx%d does not match vgrid_int %d and lat %d", s, q.Shape[0], q.Shape[1], len(plev), len(lat))
		}
		nk = qk.Shape[1]
		ds.Add(ncio.Variable{
			Name:  modes.QVar(s),
			Dims:  []string{"plev", "lat", "lon"},
			Array: q,
			Attrs: []ncio.Attr{{Key: "long_name", Value: fmt.Sprintf("%s Part of q", s)}},
		})
		r.logger().Debug("reconstructed", "species", s, "file", filepath.Base(src))
	}

	out := filepath.Join(paths.QModes, modes.QModesFile(opts.Date, opts.NoMRG, opts.KLower, nk))
	if err := ncio.Write(out, ds); err != nil {
		return "", err
	}
	if opts.NoMRG {
		r.logger().Warn("wrote a noMRG file", "file", out)
	}
	return out, nil
}

func readQK(path string, s modes.Species) (*ncio.Array, error) {
	f, err := ncio.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Array(modes.QKVar(s))
}
