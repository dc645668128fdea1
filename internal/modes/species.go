// Package modes implements the normal-mode (MODES) projection of a
// gridded field: vertical structure function integrals, per-species
// Fourier coefficients and the inverse zonal Fourier reconstruction.
package modes

import (
	"errors"
	"fmt"
	"strings"
)

// Species is a wave-species class of the normal-mode decomposition.
type Species string

const (
	EIG Species = "EIG" // eastward inertio-gravity
	WIG Species = "WIG" // westward inertio-gravity
	BAL Species = "BAL" // balanced (Rossby)
)

// AllSpecies is the processing order used when writing qmodes files.
var AllSpecies = []Species{EIG, WIG, BAL}

var (
	ErrUnknownSpecies = errors.New("mode must be EIG, WIG, or BAL")
	ErrNoMRGNotBAL    = errors.New("noMRG can only be used with the BAL mode")
	ErrMissingSpecies = errors.New("EIG and WIG must be computed before BAL with noMRG")
)

func ParseSpecies(s string) (Species, error) {
	switch sp := Species(strings.ToUpper(strings.TrimSpace(s))); sp {
	case EIG, WIG, BAL:
		return sp, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownSpecies)
}

func (s Species) String() string { return string(s) }

// FrequencyBlock returns the half-open range of rows a species occupies
// in a frequency table laid out EIG, WIG, then BAL, with n meridional
// modes each.
func (s Species) FrequencyBlock(n int) (lo, hi int) {
	switch s {
	case WIG:
		return n, 2 * n
	case BAL:
		return 2 * n, 3 * n
	default:
		return 0, n
	}
}

// Dims are the truncation limits of the spectral expansion.
type Dims struct {
	K int // zonal wavenumbers
	M int // vertical modes
	N int // meridional modes per species
}

// DefaultDims matches the F320 / M60 Hough function datasets.
var DefaultDims = Dims{K: 351, M: 60, N: 200}

func (d Dims) Validate() error {
	if d.K < 1 || d.M < 1 || d.N < 1 {
		return fmt.Errorf("invalid truncation K=%d M=%d N=%d", d.K, d.M, d.N)
	}
	return nil
}
