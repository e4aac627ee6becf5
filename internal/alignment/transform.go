package alignment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"omr-scanner/pkg/geometry"
)

// FitAffine computes the least-squares affine transform mapping src
// points onto dst points. At least three non-collinear pairs are
// required; the solve is deterministic for a given input.
func FitAffine(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	n := len(src)
	if n != len(dst) {
		return geometry.AffineTransform{}, fmt.Errorf("point count mismatch: %d vs %d", n, len(dst))
	}
	if n < 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 3 point pairs, have %d", n)
	}

	// Overdetermined system: [x y 1 0 0 0; 0 0 0 x y 1] * params = [x'; y']
	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)
	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y
		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, dst[i].X)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, dst[i].Y)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, fmt.Errorf("affine solve: %w", err)
	}

	t := geometry.AffineTransform{
		A:  params.AtVec(0),
		B:  params.AtVec(1),
		TX: params.AtVec(2),
		C:  params.AtVec(3),
		D:  params.AtVec(4),
		TY: params.AtVec(5),
	}
	for _, v := range []float64{t.A, t.B, t.TX, t.C, t.D, t.TY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return geometry.AffineTransform{}, fmt.Errorf("affine solve produced non-finite coefficients")
		}
	}
	if _, ok := t.Inverse(); !ok {
		return geometry.AffineTransform{}, fmt.Errorf("affine fit is singular")
	}
	return t, nil
}

// FitError returns the mean residual distance of the fit over the pairs.
func FitError(src, dst []geometry.Point2D, t geometry.AffineTransform) float64 {
	if len(src) != len(dst) || len(src) == 0 {
		return math.Inf(1)
	}
	var total float64
	for i := range src {
		total += t.Apply(src[i]).Distance(dst[i])
	}
	return total / float64(len(src))
}
