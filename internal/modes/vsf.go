package modes

import (
	"fmt"

	"github.com/lox/qmodes/internal/ncio"
)

// SurfacePressure is the pressure at the bottom of the vertical grid (Pa).
const SurfacePressure = 101325.0

// IntegrateVSF computes vsf_int(p;m) = int_0^p vsf(p';m) dp' for the
// first nmodes vertical modes. vsf has shape [modes, levels] on vgrid,
// which runs from the level nearest the surface up to the model top.
//
// Layer thicknesses are averaged from the neighbouring half-layers
// (mean of the left and right Riemann sums). The result is indexed on
// the reversed grid, also returned, so index 0 is the model top.
func IntegrateVSF(vsf *ncio.Array, vgrid []float64, nmodes int) (*ncio.Array, []float64, error) {
	if vsf.Rank() != 2 {
		return nil, nil, fmt.Errorf("vsf has rank %d, want 2", vsf.Rank())
	}
	mp := len(vgrid)
	if mp < 1 {
		return nil, nil, fmt.Errorf("empty vertical grid")
	}
	if vsf.Shape[1] != mp {
		return nil, nil, fmt.Errorf("vsf has %d levels, vgrid has %d", vsf.Shape[1], mp)
	}
	if vsf.Shape[0] < nmodes {
		return nil, nil, fmt.Errorf("vsf has %d vertical modes, need %d", vsf.Shape[0], nmodes)
	}

	dz := LayerThickness(vgrid)

	out := ncio.NewArray(nmodes, mp)
	for m := 0; m < nmodes; m++ {
		acc := 0.0
		for k := 1; k <= mp; k++ {
			dp := 0.5 * (dz[mp-k] + dz[mp+1-k])
			acc += vsf.At(m, mp-k) * dp
			out.Set(acc, m, k-1)
		}
	}

	vgridInt := make([]float64, mp)
	for i, p := range vgrid {
		vgridInt[mp-1-i] = p
	}
	return out, vgridInt, nil
}

// LayerThickness returns the mp+1 half-layer thicknesses used by
// IntegrateVSF. dz[0] is twice the distance from the lowest level to
// the surface and dz[mp] twice the distance from the top level to zero
// pressure.
func LayerThickness(vgrid []float64) []float64 {
	mp := len(vgrid)
	dz := make([]float64, mp+1)
	for k := 1; k < mp; k++ {
		dz[k] = vgrid[k-1] - vgrid[k]
	}
	dz[mp] = 2.0 * vgrid[mp-1]
	dz[0] = 2.0 * (SurfacePressure - vgrid[0])
	return dz
}
