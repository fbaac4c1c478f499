package fl

import (
	"fmt"
	"math"
)

const (
	WeightUniform      = "uniform"
	WeightInverseScore = "inverse_score"

	DefaultInverseEpsilon = 1e-6
)

type uniformAllocator struct{}

type inverseScoreAllocator struct {
	epsilon float64
}

func NewAllocator(policy string, epsilon float64) (WeightAllocator, error) {
	switch policy {
	case WeightUniform, "":
		return NewUniformAllocator(), nil
	case WeightInverseScore:
		return NewInverseScoreAllocator(epsilon), nil
	default:
		return nil, fmt.Errorf("%w: weighting %q", ErrUnknownMethod, policy)
	}
}

// NewUniformAllocator gives each of the k included clients 1/k.
func NewUniformAllocator() WeightAllocator {
	return uniformAllocator{}
}

// NewInverseScoreAllocator weights included clients by 1/(epsilon+score).
func NewInverseScoreAllocator(epsilon float64) WeightAllocator {
	if epsilon <= 0 {
		epsilon = DefaultInverseEpsilon
	}

	return inverseScoreAllocator{epsilon: epsilon}
}

func (uniformAllocator) Allocate(decision TrustDecision, _ ScoreVector) (WeightVector, error) {
	return allocate(decision, func(string) float64 { return 1 })
}

func (a inverseScoreAllocator) Allocate(decision TrustDecision, scores ScoreVector) (WeightVector, error) {
	return allocate(decision, func(clientID string) float64 {
		s, ok := scores.Get(clientID)
		if !ok || s.Failed {
			return 0
		}

		return 1 / (a.epsilon + s.Value)
	})
}

// allocate normalizes raw weights of the included clients so they sum to 1.
// If the raw weights degenerate (all zero or overflowing) it falls back to a
// uniform share.
func allocate(decision TrustDecision, raw func(clientID string) float64) (WeightVector, error) {
	if len(decision.Entries) == 0 {
		return nil, ErrNoReportsReceived
	}

	weights := make(WeightVector, len(decision.Entries))
	var total float64
	included := 0
	for i, e := range decision.Entries {
		weights[i] = Weight{ClientID: e.ClientID}
		if !e.Included {
			continue
		}
		included++
		w := raw(e.ClientID)
		weights[i].Value = w
		total += w
	}
	if included == 0 {
		return nil, ErrAllClientsExcluded
	}

	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		for i, e := range decision.Entries {
			if e.Included {
				weights[i].Value = 1
			}
		}
		total = float64(included)
	}

	for i := range weights {
		if weights[i].Value != 0 {
			weights[i].Value /= total
		}
	}

	return weights, nil
}
