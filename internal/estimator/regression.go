package estimator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// olsRcond is the relative singular value cutoff for least-squares solves.
const olsRcond = 1e-12

var errDegenerateFit = errors.New("degenerate fit")

// ridgeSolve solves (AᵀA + λI)x = Aᵀy via Cholesky.
func ridgeSolve(rows [][]float64, y []float64, lambda float64) ([]float64, error) {
	a, b, err := design(rows, y)
	if err != nil {
		return nil, err
	}
	_, k := a.Dims()

	var ata mat.SymDense
	ata.SymOuterK(1, a.T())
	for i := 0; i < k; i++ {
		ata.SetSym(i, i, ata.At(i, i)+lambda)
	}

	var aty mat.VecDense
	aty.MulVec(a.T(), b)

	var chol mat.Cholesky
	if ok := chol.Factorize(&ata); !ok {
		return nil, fmt.Errorf("ridge: %w: normal matrix not positive definite", errDegenerateFit)
	}

	var x mat.VecDense
	if err := chol.SolveVecTo(&x, &aty); err != nil {
		return nil, fmt.Errorf("ridge: %w", err)
	}
	return finiteSolution(&x)
}

// olsSolve returns the minimum-norm least-squares solution of Ax = y via SVD.
func olsSolve(rows [][]float64, y []float64) ([]float64, error) {
	a, b, err := design(rows, y)
	if err != nil {
		return nil, err
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("ols: %w: svd did not converge", errDegenerateFit)
	}
	rank := svd.Rank(olsRcond)
	if rank == 0 {
		return nil, fmt.Errorf("ols: %w: zero rank", errDegenerateFit)
	}

	var x mat.VecDense
	svd.SolveVecTo(&x, b, rank)
	return finiteSolution(&x)
}

func design(rows [][]float64, y []float64) (*mat.Dense, *mat.VecDense, error) {
	if len(rows) == 0 || len(rows) != len(y) {
		return nil, nil, fmt.Errorf("%w: %d rows, %d targets", errDegenerateFit, len(rows), len(y))
	}
	k := len(rows[0])
	a := mat.NewDense(len(rows), k, nil)
	for i, row := range rows {
		if len(row) != k {
			return nil, nil, fmt.Errorf("%w: ragged row %d", errDegenerateFit, i)
		}
		a.SetRow(i, row)
	}
	return a, mat.NewVecDense(len(y), append([]float64(nil), y...)), nil
}

func finiteSolution(x *mat.VecDense) ([]float64, error) {
	out := make([]float64, x.Len())
	for i := range out {
		out[i] = x.AtVec(i)
		if !finite(out[i]) {
			return nil, fmt.Errorf("%w: non-finite coefficient %d", errDegenerateFit, i)
		}
	}
	return out, nil
}
