package modes

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/qmodes/internal/ncio"
)

// Reconstruct evaluates the zonal Fourier series of qk, shaped
// [2, K, p, lat], at the given longitudes (degrees):
//
//	q[p,lat,lon] = qk[0,0] + sum_{k>=1} 2*(qk[0,k]*cos(k*lon) - qk[1,k]*sin(k*lon))
//
// Wavenumbers below kLower are left out; the mean (k=0) term is kept
// only when kLower is 0. The result is shaped [p, lat, lon].
func Reconstruct(qk *ncio.Array, lonDeg []float64, kLower int) (*ncio.Array, error) {
	if qk.Rank() != 4 || qk.Shape[0] != 2 {
		return nil, fmt.Errorf("qk has shape %v, want [2 K plev lat]", qk.Shape)
	}
	nk, nplev, nlat := qk.Shape[1], qk.Shape[2], qk.Shape[3]
	if kLower < 0 || kLower >= nk {
		return nil, fmt.Errorf("k lower bound %d outside [0,%d)", kLower, nk)
	}
	nlon := len(lonDeg)
	if nlon == 0 {
		return nil, fmt.Errorf("no longitudes")
	}

	// Rows 0..K-1 hold the cosine basis, K..2K-1 the sine basis, matching
	// the real/imaginary layout of qk so one product does the whole sum.
	basis := mat.NewDense(2*nk, nlon, nil)
	for k := kLower; k < nk; k++ {
		w := 2.0
		if k == 0 {
			w = 1.0
		}
		for i, lon := range lonDeg {
			arg := float64(k) * lon * math.Pi / 180.0
			basis.Set(k, i, w*math.Cos(arg))
			if k > 0 {
				basis.Set(nk+k, i, -w*math.Sin(arg))
			}
		}
	}

	coeffs := mat.NewDense(2*nk, nplev*nlat, qk.Data)
	out := ncio.NewArray(nplev, nlat, nlon)
	res := mat.NewDense(nplev*nlat, nlon, out.Data)
	res.Mul(coeffs.T(), basis)
	return out, nil
}
