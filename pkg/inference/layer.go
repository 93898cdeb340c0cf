package inference

import (
	"fmt"

	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"gonum.org/v1/gonum/mat"
)

// LinearLayer computes W·x + b
type LinearLayer struct {
	weights *mat.Dense
	bias    *mat.VecDense
}

// NewLinearLayer builds a layer from a row-major weight matrix. Every row
// must have the same length and the row count must equal len(bias).
func NewLinearLayer(weights [][]float64, bias []float64) (*LinearLayer, error) {
	rows := len(weights)
	if rows == 0 {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeInvalidInput,
			"layer has no weight rows", nil)
	}
	if rows != len(bias) {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeDimensionMismatch,
			fmt.Sprintf("layer has %d weight rows but %d biases", rows, len(bias)), nil)
	}

	cols := len(weights[0])
	if cols == 0 {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeInvalidInput,
			"layer has empty weight rows", nil)
	}
	flat := make([]float64, 0, rows*cols)
	for i, row := range weights {
		if len(row) != cols {
			return nil, common.NewAudioError(common.BackendNone, common.ErrCodeDimensionMismatch,
				fmt.Sprintf("weight row %d has %d columns, expected %d", i, len(row), cols), nil)
		}
		flat = append(flat, row...)
	}

	b := make([]float64, rows)
	copy(b, bias)

	return &LinearLayer{
		weights: mat.NewDense(rows, cols, flat),
		bias:    mat.NewVecDense(rows, b),
	}, nil
}

// Dims returns (outputs, inputs)
func (l *LinearLayer) Dims() (int, int) {
	return l.weights.Dims()
}

// Forward returns W·input + b, or nil when input has the wrong length
func (l *LinearLayer) Forward(input []float64) []float64 {
	rows, cols := l.weights.Dims()
	if len(input) != cols {
		return nil
	}

	x := mat.NewVecDense(cols, input)
	y := mat.NewVecDense(rows, nil)
	y.MulVec(l.weights, x)
	y.AddVec(y, l.bias)

	out := make([]float64, rows)
	for i := range out {
		out[i] = y.AtVec(i)
	}
	return out
}

func relu(v []float64) []float64 {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
	return v
}
