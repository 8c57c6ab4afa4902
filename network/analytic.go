package network

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Analytic is a bias-free linear classifier over the buffer features fitted
// in closed form by recursive least squares. R tracks (Z'Z + gamma*I)^-1 over
// every batch seen so far, so fitting a new batch never revisits old data.
type Analytic struct {
	W     *Param // (buffer, classes)
	R     *mat.Dense
	Gamma float64
}

func NewAnalytic(buffer int, gamma float64) *Analytic {
	r := mat.NewDense(buffer, buffer, nil)
	for i := 0; i < buffer; i++ {
		r.Set(i, i, 1/gamma)
	}
	return &Analytic{
		W:     newParam("fc.W", GroupFC, 0, buffer, 0, nil),
		R:     r,
		Gamma: gamma,
	}
}

func (a *Analytic) Classes() int { return a.W.Cols }

// Widen adds zero-weight outputs up to classes.
func (a *Analytic) Widen(classes int) { a.W.widen(classes) }

// Forward returns Z*W.
func (a *Analytic) Forward(z mat.Matrix) (*mat.Dense, error) {
	if a.W.Cols == 0 {
		return nil, ErrNoClasses
	}
	r, _ := z.Dims()
	out := mat.NewDense(r, a.W.Cols, nil)
	out.Mul(z, a.W.Mat())
	return out, nil
}

// Fit folds one batch (Z, Y) into the solution:
//
//	R <- R - R Z' (I + Z R Z')^-1 Z R
//	W <- W + R Z' (Y - Z W)
//
// Y narrower than W is zero padded, wider Y widens W.
func (a *Analytic) Fit(z, y *mat.Dense) error {
	n, buf := z.Dims()
	yr, k := y.Dims()
	if yr != n {
		return fmt.Errorf("network: %d feature rows for %d targets", n, yr)
	}
	if rb, _ := a.R.Dims(); rb != buf {
		return fmt.Errorf("network: feature width %d, buffer is %d", buf, rb)
	}
	if k > a.W.Cols {
		a.Widen(k)
	}
	if k < a.W.Cols {
		padded := mat.NewDense(n, a.W.Cols, nil)
		padded.Slice(0, n, 0, k).(*mat.Dense).Copy(y)
		y = padded
	}

	var zr mat.Dense // Z R, (n, buf)
	zr.Mul(z, a.R)
	var zrz mat.Dense
	zrz.Mul(&zr, z.T())
	k2 := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := zrz.At(i, j)
			if i == j {
				v++
			}
			k2.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(k2); !ok {
		return errors.New("network: least squares system is not positive definite")
	}
	var sol mat.Dense // K^-1 Z R
	if err := chol.SolveTo(&sol, &zr); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return err
		}
	}
	// R is symmetric, so R Z' = (Z R)'.
	var upd mat.Dense
	upd.Mul(zr.T(), &sol)
	a.R.Sub(a.R, &upd)

	w := a.W.Mat()
	var pred, resid mat.Dense
	pred.Mul(z, w)
	resid.Sub(y, &pred)
	var rz mat.Dense
	rz.Mul(a.R, z.T())
	var dw mat.Dense
	dw.Mul(&rz, &resid)
	w.Add(w, &dw)
	return nil
}
