package diag

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/lox/qmodes/internal/modes"
)

// FrequencyFile is the name of the normalized frequency file of zonal
// wavenumber k under a Hough dataset prefix.
func FrequencyFile(prefix string, k int) string {
	return fmt.Sprintf("%s.wn%03d", prefix, k)
}

// Frequencies are normalized eigenfrequencies indexed [species][n][m][k].
type Frequencies struct {
	K, M, N int
	bySpecies map[modes.Species][]float64
}

func (f *Frequencies) At(s modes.Species, n, m, k int) float64 {
	return f.bySpecies[s][(n*f.M+m)*f.K+k]
}

// ReadFrequencies loads nk per-wavenumber files of raw little-endian
// float64 values laid out [3N, M]: the EIG block, then WIG, then the
// balanced block. Files may carry extra trailing values; only the first
// 3*N*M are used.
func ReadFrequencies(dir, prefix string, nk, nm, nn int) (*Frequencies, error) {
	f := &Frequencies{K: nk, M: nm, N: nn, bySpecies: map[modes.Species][]float64{}}
	for _, s := range modes.AllSpecies {
		f.bySpecies[s] = make([]float64, nn*nm*nk)
	}
	for k := 0; k < nk; k++ {
		path := filepath.Join(dir, FrequencyFile(prefix, k))
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read frequencies: %w", err)
		}
		vals, err := decodeFloat64s(raw, 3*nn*nm)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, s := range modes.AllSpecies {
			lo, _ := s.FrequencyBlock(nn)
			dst := f.bySpecies[s]
			for n := 0; n < nn; n++ {
				for m := 0; m < nm; m++ {
					dst[(n*nm+m)*nk+k] = vals[(lo+n)*nm+m]
				}
			}
		}
	}
	return f, nil
}

func decodeFloat64s(raw []byte, want int) ([]float64, error) {
	if len(raw) < want*8 {
		return nil, fmt.Errorf("have %d bytes, need %d", len(raw), want*8)
	}
	out := make([]float64, want)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// DispersionPoint is one marker of the dispersion diagram: signed zonal
// wavenumber (negative for westward propagation) and log10 |frequency|.
type DispersionPoint struct {
	K     float64
	LogNu float64
}

// DispersionSeries groups the points of one species and meridional mode.
type DispersionSeries struct {
	Species modes.Species
	N       int
	Points  []DispersionPoint
}

// Dispersion collects the series plotted for vertical mode m and the
// given meridional modes. The n=0 EIG (Kelvin) and n=0 balanced (MRG)
// branches are always included. Non-positive magnitudes are skipped.
func (f *Frequencies) Dispersion(m int, ns []int) []DispersionSeries {
	series := func(s modes.Species, n int, sign float64) DispersionSeries {
		ds := DispersionSeries{Species: s, N: n}
		for k := 0; k < f.K; k++ {
			v := sign * f.At(s, n, m, k)
			if v <= 0 || math.IsNaN(v) {
				continue
			}
			ds.Points = append(ds.Points, DispersionPoint{K: sign * float64(k), LogNu: math.Log10(v)})
		}
		return ds
	}

	out := []DispersionSeries{
		series(modes.EIG, 0, 1),
		series(modes.WIG, 0, -1),
		series(modes.BAL, 0, -1),
	}
	for _, n := range ns {
		if n <= 0 || n >= f.N {
			continue
		}
		out = append(out,
			series(modes.WIG, n, -1),
			series(modes.EIG, n, 1),
			series(modes.BAL, n, -1),
		)
	}
	return out
}
