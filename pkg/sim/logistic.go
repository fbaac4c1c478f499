package sim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"gonum.org/v1/gonum/floats"
)

const (
	weightsTensor = "w"
	biasTensor    = "b"

	probEpsilon = 1e-12
)

var ErrUnsupportedDataset = errors.New("unsupported dataset")

// LogisticUnit is a logistic regression model trained with full-batch
// gradient descent. It is deterministic for a given starting point.
type LogisticUnit struct {
	lr float64
	w  []float64
	b  float64
}

var _ node.TrainableUnit = (*LogisticUnit)(nil)

func NewLogisticUnit(dim int, learningRate float64) *LogisticUnit {
	return &LogisticUnit{lr: learningRate, w: make([]float64, dim)}
}

// InitialParameters is the all-zero starting model for dim features.
func InitialParameters(dim int) (fl.ParameterVector, error) {
	w, err := fl.NewTensor(weightsTensor, []int{dim}, make([]float64, dim))
	if err != nil {
		return fl.ParameterVector{}, err
	}
	b, err := fl.NewTensor(biasTensor, []int{1}, []float64{0})
	if err != nil {
		return fl.ParameterVector{}, err
	}

	return fl.NewParameterVector(w, b), nil
}

func (u *LogisticUnit) SetParameters(params fl.ParameterVector) error {
	layout, err := InitialParameters(len(u.w))
	if err != nil {
		return err
	}
	if !params.SameLayout(layout) {
		return fmt.Errorf("%w: logistic unit expects %v", fl.ErrShapeMismatch, layout.Layout())
	}

	flat := params.Flatten()
	copy(u.w, flat[:len(u.w)])
	u.b = flat[len(u.w)]

	return nil
}

func (u *LogisticUnit) Parameters() fl.ParameterVector {
	layout, _ := InitialParameters(len(u.w))
	pv, _ := layout.WithFlat(append(append([]float64{}, u.w...), u.b))

	return pv
}

func (u *LogisticUnit) Train(ctx context.Context, data node.Dataset, epochs int) error {
	ds, err := u.dataset(data)
	if err != nil {
		return err
	}
	if ds.Len() == 0 {
		return nil
	}

	n := float64(ds.Len())
	gw := make([]float64, len(u.w))
	for range epochs {
		if err := ctx.Err(); err != nil {
			return err
		}

		for i := range gw {
			gw[i] = 0
		}
		var gb float64
		for i, x := range ds.X {
			residual := u.predict(x) - ds.Y[i]
			floats.AddScaled(gw, residual, x)
			gb += residual
		}
		floats.AddScaled(u.w, -u.lr/n, gw)
		u.b -= u.lr * gb / n
	}

	return nil
}

func (u *LogisticUnit) Evaluate(_ context.Context, data node.Dataset) (fl.Metrics, error) {
	ds, err := u.dataset(data)
	if err != nil {
		return fl.Metrics{}, err
	}
	if ds.Len() == 0 {
		return fl.Metrics{}, fmt.Errorf("%w: empty evaluation set", ErrUnsupportedDataset)
	}

	var loss, correct float64
	for i, x := range ds.X {
		p := math.Min(math.Max(u.predict(x), probEpsilon), 1-probEpsilon)
		y := ds.Y[i]
		loss -= y*math.Log(p) + (1-y)*math.Log(1-p)
		if (p >= 0.5) == (y == 1) {
			correct++
		}
	}
	n := float64(ds.Len())

	return fl.Metrics{Loss: loss / n, Accuracy: correct / n}, nil
}

func (u *LogisticUnit) predict(x []float64) float64 {
	return sigmoid(floats.Dot(u.w, x) + u.b)
}

func (u *LogisticUnit) dataset(data node.Dataset) (*Dataset, error) {
	ds, ok := data.(*Dataset)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedDataset, data)
	}
	if ds.Len() > 0 && ds.Dim() != len(u.w) {
		return nil, fmt.Errorf("%w: %d features, model has %d", fl.ErrShapeMismatch, ds.Dim(), len(u.w))
	}

	return ds, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
