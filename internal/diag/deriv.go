// Package diag computes the diagnostics derived from a qmodes
// decomposition: anomalies against a background state, the residual
// moist component, latitude variances and zonal spectra.
package diag

// Deriv differentiates y(x). Interior points use the derivative of the
// quadratic through each point and its two neighbours; the end points
// use one-sided differences.
func Deriv(x, y []float64) []float64 {
	n := len(y)
	d := make([]float64, n)
	if n < 2 {
		return d
	}
	d[0] = (y[1] - y[0]) / (x[1] - x[0])
	for i := 1; i < n-1; i++ {
		d[i] = QuadraticSlope(x[i-1], y[i-1], x[i], y[i], x[i+1], y[i+1], x[i])
	}
	d[n-1] = (y[n-1] - y[n-2]) / (x[n-1] - x[n-2])
	return d
}

// QuadraticSlope returns the slope at x of the parabola
// f(x) = a x^2 + b x + c through the three points.
func QuadraticSlope(x1, y1, x2, y2, x3, y3, x float64) float64 {
	a := (x1*(y3-y2) + x2*(y1-y3) + x3*(y2-y1)) / ((x1 - x2) * (x1 - x3) * (x2 - x3))
	b := (y2-y1)/(x2-x1) - a*(x1+x2)
	return 2*a*x + b
}
