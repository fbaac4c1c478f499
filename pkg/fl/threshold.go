package fl

import (
	"fmt"
	"math"
	"slices"

	"github.com/montanaflynn/stats"
)

const (
	ThresholdMAD   = "mad"
	ThresholdGap   = "gap"
	ThresholdSigma = "sigma"

	// madScale makes the MAD a consistent estimator of the standard
	// deviation for normally distributed scores.
	madScale = 1.4826

	DefaultMADMultiplier   = 3.0
	DefaultGapFactor       = 2.0
	DefaultSigmaMultiplier = 2.0
)

const (
	reasonFailed   = "failed report"
	reasonAbove    = "score above boundary"
	reasonFallback = "lowest score fallback"
)

// ThresholdConfig selects a thresholder. Zero multipliers take the defaults.
type ThresholdConfig struct {
	Method          string
	MADMultiplier   float64
	GapFactor       float64
	SigmaMultiplier float64
}

// boundaryFunc receives the healthy scores sorted ascending, never empty.
type boundaryFunc func(sorted []float64) (float64, error)

type thresholder struct {
	method   string
	boundary boundaryFunc
}

func NewThresholder(cfg ThresholdConfig) (DynamicThresholder, error) {
	switch cfg.Method {
	case ThresholdMAD, "":
		return NewMADThresholder(cfg.MADMultiplier), nil
	case ThresholdGap:
		return NewGapThresholder(cfg.GapFactor), nil
	case ThresholdSigma:
		return NewSigmaThresholder(cfg.SigmaMultiplier), nil
	default:
		return nil, fmt.Errorf("%w: thresholder %q", ErrUnknownMethod, cfg.Method)
	}
}

// NewMADThresholder includes clients scoring at most
// median + k * 1.4826 * MAD of the round's scores.
func NewMADThresholder(k float64) DynamicThresholder {
	if k <= 0 {
		k = DefaultMADMultiplier
	}

	return &thresholder{
		method: ThresholdMAD,
		boundary: func(sorted []float64) (float64, error) {
			median, err := stats.Median(sorted)
			if err != nil {
				return 0, err
			}
			mad, err := stats.MedianAbsoluteDeviation(sorted)
			if err != nil {
				return 0, err
			}

			return median + k*madScale*mad, nil
		},
	}
}

// NewGapThresholder cuts at the widest gap between consecutive scores when
// that gap is more than factor times the average gap.
func NewGapThresholder(factor float64) DynamicThresholder {
	if factor <= 0 {
		factor = DefaultGapFactor
	}

	return &thresholder{
		method: ThresholdGap,
		boundary: func(sorted []float64) (float64, error) {
			n := len(sorted)
			top := sorted[n-1]
			if n < 3 {
				return top, nil
			}

			cut, widest := -1, 0.0
			for i := 0; i < n-1; i++ {
				if g := sorted[i+1] - sorted[i]; g > 0 && g >= widest {
					cut, widest = i, g
				}
			}
			if cut < 0 {
				return top, nil
			}

			meanGap := (top - sorted[0]) / float64(n-1)
			if widest > factor*meanGap {
				return sorted[cut], nil
			}

			return top, nil
		},
	}
}

// NewSigmaThresholder includes clients scoring at most mean + k * stddev.
func NewSigmaThresholder(k float64) DynamicThresholder {
	if k <= 0 {
		k = DefaultSigmaMultiplier
	}

	return &thresholder{
		method: ThresholdSigma,
		boundary: func(sorted []float64) (float64, error) {
			mean, err := stats.Mean(sorted)
			if err != nil {
				return 0, err
			}
			sd, err := stats.StandardDeviationPopulation(sorted)
			if err != nil {
				return 0, err
			}

			return mean + k*sd, nil
		},
	}
}

func (t *thresholder) Threshold(scores ScoreVector) (TrustDecision, error) {
	decision := TrustDecision{
		Method:  t.method,
		Entries: make([]Trust, len(scores)),
	}
	if len(scores) == 0 {
		return decision, ErrNoReportsReceived
	}

	healthy := make([]bool, len(scores))
	values := make([]float64, 0, len(scores))
	for i, s := range scores {
		decision.Entries[i] = Trust{ClientID: s.ClientID}
		if s.Failed || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			decision.Entries[i].Reason = reasonFailed

			continue
		}
		healthy[i] = true
		values = append(values, s.Value)
	}
	if len(values) == 0 {
		return decision, fmt.Errorf("%w: every report failed", ErrNoReportsReceived)
	}
	slices.Sort(values)

	boundary, err := t.boundary(values)
	if err != nil {
		return decision, fmt.Errorf("failed to compute %s boundary: %w", t.method, err)
	}
	decision.Boundary = boundary

	included := 0
	if !math.IsNaN(boundary) {
		for i, s := range scores {
			if !healthy[i] {
				continue
			}
			if s.Value <= boundary {
				decision.Entries[i].Included = true
				included++

				continue
			}
			decision.Entries[i].Reason = reasonAbove
		}
	}

	// An undefined boundary would exclude everyone; keep the lowest scorers.
	if included == 0 {
		lowest := values[0]
		decision.Boundary = lowest
		decision.Fallback = true
		for i, s := range scores {
			switch {
			case !healthy[i]:
			case s.Value == lowest:
				decision.Entries[i] = Trust{ClientID: s.ClientID, Included: true, Reason: reasonFallback}
			default:
				decision.Entries[i].Reason = reasonAbove
			}
		}
	}

	return decision, nil
}
