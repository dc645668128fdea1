package diag

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/qmodes/internal/modes"
	"github.com/lox/qmodes/internal/ncio"
)

// Background selects how the reference profile is formed before taking
// anomalies.
type Background int

const (
	// PressureBackground averages over latitude and longitude.
	PressureBackground Background = iota
	// PressureLatBackground averages over longitude only.
	PressureLatBackground
)

func (b Background) String() string {
	if b == PressureLatBackground {
		return "p-lat"
	}
	return "p"
}

// ParseBackground accepts "p" or "p-lat".
func ParseBackground(s string) (Background, error) {
	switch s {
	case "p", "":
		return PressureBackground, nil
	case "p-lat", "plat":
		return PressureLatBackground, nil
	}
	return 0, fmt.Errorf("unknown background %q (want p or p-lat)", s)
}

// Components holds the anomaly fields of one analysis, each shaped
// [plev, lat, lon] on the ERA5 grid.
type Components struct {
	Plev []float64
	ERA  *ncio.Array
	EIG  *ncio.Array
	WIG  *ncio.Array
	BAL  *ncio.Array
	// M is the residual moist component ERA - EIG - WIG - BAL.
	M *ncio.Array
}

// IG is the combined inertio-gravity field EIG + WIG.
func (c *Components) IG() *ncio.Array {
	out := c.EIG.Clone()
	floats.Add(out.Data, c.WIG.Data)
	return out
}

// Decompose turns the full ERA5 field q [plev, lat, lon] into an anomaly
// and scales each reconstructed species field by the vertical derivative
// of the background. Species fields are stored south-to-north and are
// flipped onto the ERA5 latitude order.
func Decompose(q *ncio.Array, plev []float64, species map[modes.Species]*ncio.Array, bg Background) (*Components, error) {
	if q.Rank() != 3 {
		return nil, fmt.Errorf("q has rank %d, want 3", q.Rank())
	}
	nplev, nlat, nlon := q.Shape[0], q.Shape[1], q.Shape[2]
	if len(plev) != nplev {
		return nil, fmt.Errorf("q has %d levels, plev has %d", nplev, len(plev))
	}
	for _, s := range modes.AllSpecies {
		f, ok := species[s]
		if !ok {
			return nil, fmt.Errorf("missing %s field", s)
		}
		if !ncio.SameShape(f, q) {
			return nil, fmt.Errorf("%s field shape %v differs from q %v", s, f.Shape, q.Shape)
		}
	}

	// bkg[p][lat] is the background and dbkg[p][lat] its pressure
	// derivative; the p-only background repeats across latitudes.
	bkg := make([][]float64, nplev)
	for p := range bkg {
		bkg[p] = make([]float64, nlat)
	}
	switch bg {
	case PressureBackground:
		for p := 0; p < nplev; p++ {
			mean := stat.Mean(q.Sub(p).Data, nil)
			for lat := range bkg[p] {
				bkg[p][lat] = mean
			}
		}
	case PressureLatBackground:
		for p := 0; p < nplev; p++ {
			for lat := 0; lat < nlat; lat++ {
				bkg[p][lat] = stat.Mean(q.Sub(p, lat).Data, nil)
			}
		}
	default:
		return nil, fmt.Errorf("unknown background %d", bg)
	}

	dbkg := make([][]float64, nplev)
	for p := range dbkg {
		dbkg[p] = make([]float64, nlat)
	}
	column := make([]float64, nplev)
	for lat := 0; lat < nlat; lat++ {
		for p := 0; p < nplev; p++ {
			column[p] = bkg[p][lat]
		}
		d := Deriv(plev, column)
		for p := 0; p < nplev; p++ {
			dbkg[p][lat] = d[p]
		}
	}

	c := &Components{
		Plev: plev,
		ERA:  q.Clone(),
		EIG:  species[modes.EIG].Flip(1),
		WIG:  species[modes.WIG].Flip(1),
		BAL:  species[modes.BAL].Flip(1),
	}
	for p := 0; p < nplev; p++ {
		for lat := 0; lat < nlat; lat++ {
			off := (p*nlat + lat) * nlon
			row := c.ERA.Data[off : off+nlon]
			floats.AddConst(-bkg[p][lat], row)
			for _, f := range []*ncio.Array{c.EIG, c.WIG, c.BAL} {
				floats.Scale(dbkg[p][lat], f.Data[off:off+nlon])
			}
		}
	}

	c.M = c.ERA.Clone()
	floats.Sub(c.M.Data, c.EIG.Data)
	floats.Sub(c.M.Data, c.WIG.Data)
	floats.Sub(c.M.Data, c.BAL.Data)
	return c, nil
}

// Level extracts the [lat, lon] slices of every component at one
// pressure level index, converted to g/kg.
func (c *Components) Level(iplev int) (*LevelFields, error) {
	if iplev < 0 || iplev >= len(c.Plev) {
		return nil, fmt.Errorf("pressure level index %d outside [0,%d)", iplev, len(c.Plev))
	}
	g := func(a *ncio.Array) *ncio.Array { return a.Sub(iplev).Clone().Scale(1000) }
	lf := &LevelFields{
		Plev: c.Plev[iplev],
		ERA:  g(c.ERA),
		EIG:  g(c.EIG),
		WIG:  g(c.WIG),
		BAL:  g(c.BAL),
		M:    g(c.M),
	}
	lf.IG = lf.EIG.Clone()
	floats.Add(lf.IG.Data, lf.WIG.Data)
	return lf, nil
}

// LevelFields are single-level anomaly fields in g/kg, shaped [lat, lon].
type LevelFields struct {
	Plev float64
	ERA  *ncio.Array
	EIG  *ncio.Array
	WIG  *ncio.Array
	BAL  *ncio.Array
	IG   *ncio.Array
	M    *ncio.Array
}

// Named returns the four fields shown in the diagnostic panels, in
// panel order.
func (lf *LevelFields) Named() []NamedField {
	return []NamedField{
		{Name: "qERA", Field: lf.ERA},
		{Name: "qROT", Field: lf.BAL},
		{Name: "qIG", Field: lf.IG},
		{Name: "qM", Field: lf.M},
	}
}

type NamedField struct {
	Name  string
	Field *ncio.Array
}
