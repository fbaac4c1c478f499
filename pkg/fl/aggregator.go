package fl

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

type WeightedAggregator struct{}

func NewWeightedAggregator() Aggregator {
	return &WeightedAggregator{}
}

// Aggregate computes the coordinate-wise weighted mean of the reports in the
// order given. Reports without weight are skipped; they would contribute
// exactly zero anyway. The mean is kept as a running update, so clients that
// agree on a coordinate reproduce it bit for bit.
func (a *WeightedAggregator) Aggregate(reports []ClientReport, weights WeightVector) (ParameterVector, error) {
	if len(reports) == 0 {
		return ParameterVector{}, ErrNoReportsReceived
	}

	byClient := make(map[string]float64, len(weights))
	for _, w := range weights {
		byClient[w.ClientID] = w.Value
	}

	var (
		layout ParameterVector
		mean   []float64
		diff   []float64
		total  float64
	)
	for _, r := range reports {
		w := byClient[r.ClientID]
		if w == 0 {
			continue
		}
		if r.Failed {
			return ParameterVector{}, fmt.Errorf("%w: client %s has weight %g but failed: %s", ErrCorruptUpdate, r.ClientID, w, r.Reason)
		}
		if !r.Parameters.IsFinite() {
			return ParameterVector{}, fmt.Errorf("%w: client %s submitted non-finite values", ErrCorruptUpdate, r.ClientID)
		}
		if mean == nil {
			layout = r.Parameters
			mean = make([]float64, layout.Len())
			diff = make([]float64, layout.Len())
		}
		if !r.Parameters.SameLayout(layout) {
			return ParameterVector{}, fmt.Errorf("%w: %w: client %s", ErrCorruptUpdate, ErrShapeMismatch, r.ClientID)
		}
		total += w
		floats.SubTo(diff, r.Parameters.Flatten(), mean)
		floats.AddScaled(mean, w/total, diff)
	}

	if mean == nil {
		return ParameterVector{}, ErrAllClientsExcluded
	}
	if !finite(mean) {
		return ParameterVector{}, fmt.Errorf("%w: weighted mean overflowed", ErrCorruptAggregate)
	}

	return layout.WithFlat(mean)
}
