package diag

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/qmodes/internal/ncio"
)

// LatVariance returns the sample variance (n-1 denominator) along
// longitude for every latitude row of a [lat, lon] field.
func LatVariance(field *ncio.Array) ([]float64, error) {
	if field.Rank() != 2 {
		return nil, fmt.Errorf("field has rank %d, want 2", field.Rank())
	}
	out := make([]float64, field.Shape[0])
	for lat := range out {
		out[lat] = stat.Variance(field.Sub(lat).Data, nil)
	}
	return out, nil
}

// Band is an inclusive range of latitude indices.
type Band struct {
	Name string
	Lo   int
	Hi   int
}

// DefaultBands are +-15 degree bands on the 640-latitude F320 grid.
var DefaultBands = []Band{
	{Name: "Northern Midlatitudes", Lo: 105, Hi: 213},
	{Name: "Tropics", Lo: 266, Hi: 373},
	{Name: "Southern Midlatitudes", Lo: 426, Hi: 534},
}

// LatitudeBand is the one-row band at latitude index ilat, used for
// single-latitude profiles and spectra.
func LatitudeBand(lat []float64, ilat int) (Band, error) {
	if ilat < 0 || ilat >= len(lat) {
		return Band{}, fmt.Errorf("latitude index %d outside %d latitudes", ilat, len(lat))
	}
	hemi := "N"
	if lat[ilat] < 0 {
		hemi = "S"
	}
	return Band{Name: fmt.Sprintf("Latitude %.1f%s", math.Abs(lat[ilat]), hemi), Lo: ilat, Hi: ilat}, nil
}

// BandMean averages a [lat, lon] field over the latitude rows of b.
func BandMean(field *ncio.Array, b Band) ([]float64, error) {
	if field.Rank() != 2 {
		return nil, fmt.Errorf("field has rank %d, want 2", field.Rank())
	}
	if b.Lo < 0 || b.Hi >= field.Shape[0] || b.Lo > b.Hi {
		return nil, fmt.Errorf("band %s [%d,%d] outside %d latitudes", b.Name, b.Lo, b.Hi, field.Shape[0])
	}
	nlon := field.Shape[1]
	out := make([]float64, nlon)
	for lat := b.Lo; lat <= b.Hi; lat++ {
		row := field.Sub(lat).Data
		for i, v := range row {
			out[i] += v
		}
	}
	n := float64(b.Hi - b.Lo + 1)
	for i := range out {
		out[i] /= n
	}
	return out, nil
}

// Spectrum returns |FFT(x)|/len(x) for wavenumbers 0..len(x)/2-1.
func Spectrum(x []float64) []float64 {
	n := len(x)
	if n < 2 {
		return nil
	}
	coeff := fourier.NewFFT(n).Coefficients(nil, x)
	out := make([]float64, n/2)
	for k := range out {
		out[k] = cmplx.Abs(coeff[k]) / float64(n)
	}
	return out
}

// BandProfile is the band-averaged profile and spectrum of one field.
type BandProfile struct {
	Band     Band
	Field    string
	Profile  []float64
	Spectrum []float64
}

// BandProfiles computes the profiles and spectra of every named field in
// every band.
func BandProfiles(fields []NamedField, bands []Band) ([]BandProfile, error) {
	var out []BandProfile
	for _, b := range bands {
		for _, f := range fields {
			prof, err := BandMean(f.Field, b)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			out = append(out, BandProfile{Band: b, Field: f.Name, Profile: prof, Spectrum: Spectrum(prof)})
		}
	}
	return out, nil
}
