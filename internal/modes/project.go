package modes

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/qmodes/internal/ncio"
)

// HoughComponent is the component index of the Hough functions that the
// coefficients are projected with.
const HoughComponent = 2

// HoughSource supplies the Hough functions of one species at zonal
// wavenumber k, shaped [vertical mode, component, lat, meridional mode].
type HoughSource interface {
	Hough(k int) (*ncio.Array, error)
}

// HoughFunc adapts a function to HoughSource.
type HoughFunc func(k int) (*ncio.Array, error)

func (f HoughFunc) Hough(k int) (*ncio.Array, error) { return f(k) }

type ProjectOptions struct {
	// NoMRG drops the n=0 meridional mode from the sum.
	NoMRG bool
	// Progress, when set, is called after each wavenumber.
	Progress func(k int)
}

// Project computes the Fourier coefficients of one wave species:
//
//	qk[c,k,p,lat] = sum_m vsfInt[m,p] * sum_n coefs[0,c,k,m,n] * hough_k[m,2,lat,n]
//
// where c selects the real (0) or imaginary (1) part. coefs is shaped
// [time, 2, k, m, n] and vsfInt [m, p]. The result is shaped
// [2, K, p, lat].
func Project(ctx context.Context, coefs, vsfInt *ncio.Array, hough HoughSource, dims Dims, opts ProjectOptions) (*ncio.Array, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	nlb := 0
	if opts.NoMRG {
		nlb = 1
	}
	if dims.N <= nlb {
		return nil, fmt.Errorf("no meridional modes left with N=%d", dims.N)
	}
	if coefs.Rank() != 5 || coefs.Shape[1] != 2 || coefs.Shape[2] < dims.K || coefs.Shape[3] < dims.M || coefs.Shape[4] < dims.N {
		return nil, fmt.Errorf("coefficients shape %v does not cover K=%d M=%d N=%d", coefs.Shape, dims.K, dims.M, dims.N)
	}
	if vsfInt.Rank() != 2 || vsfInt.Shape[0] < dims.M {
		return nil, fmt.Errorf("vsf_int shape %v does not cover M=%d", vsfInt.Shape, dims.M)
	}

	nplev := vsfInt.Shape[1]
	vsf := mat.NewDense(dims.M, nplev, vsfInt.Data[:dims.M*nplev])

	var qk *ncio.Array
	var nlat int
	for k := 0; k < dims.K; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h, err := hough.Hough(k)
		if err != nil {
			return nil, fmt.Errorf("hough functions for k=%d: %w", k, err)
		}
		if h.Rank() != 4 || h.Shape[0] < dims.M || h.Shape[1] <= HoughComponent || h.Shape[3] < dims.N {
			return nil, fmt.Errorf("hough functions for k=%d have shape %v", k, h.Shape)
		}
		if qk == nil {
			nlat = h.Shape[2]
			qk = ncio.NewArray(2, dims.K, nplev, nlat)
		} else if h.Shape[2] != nlat {
			return nil, fmt.Errorf("hough functions for k=%d have %d latitudes, want %d", k, h.Shape[2], nlat)
		}

		sRe := mat.NewDense(dims.M, nlat, nil)
		sIm := mat.NewDense(dims.M, nlat, nil)
		var v mat.VecDense
		for m := 0; m < dims.M; m++ {
			block := h.Sub(m, HoughComponent)
			hm := mat.NewDense(nlat, h.Shape[3], block.Data).Slice(0, nlat, nlb, dims.N)

			cRe := coefs.Sub(0, 0, k, m).Data[nlb:dims.N]
			v.Reset()
			v.MulVec(hm, mat.NewVecDense(len(cRe), cRe))
			sRe.SetRow(m, v.RawVector().Data)

			cIm := coefs.Sub(0, 1, k, m).Data[nlb:dims.N]
			v.Reset()
			v.MulVec(hm, mat.NewVecDense(len(cIm), cIm))
			sIm.SetRow(m, v.RawVector().Data)
		}

		re := mat.NewDense(nplev, nlat, qk.Sub(0, k).Data)
		re.Mul(vsf.T(), sRe)
		im := mat.NewDense(nplev, nlat, qk.Sub(1, k).Data)
		im.Mul(vsf.T(), sIm)

		if opts.Progress != nil {
			opts.Progress(k)
		}
	}
	return qk, nil
}
