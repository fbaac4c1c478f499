package fl

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
)

const (
	ScoreMedian = "median"
	ScoreMean   = "mean"
	ScoreCosine = "cosine"
)

// FailedScore is the value given to clients whose report could not be used.
const FailedScore = math.MaxFloat64

type reference func(vectors [][]float64) ([]float64, error)

type distance func(x, ref []float64) float64

type distanceScorer struct {
	reference reference
	distance  distance
}

// NewScorer returns the scorer registered under method.
func NewScorer(method string) (AnomalyScorer, error) {
	switch method {
	case ScoreMedian, "":
		return NewMedianScorer(), nil
	case ScoreMean:
		return NewMeanScorer(), nil
	case ScoreCosine:
		return NewCosineScorer(), nil
	default:
		return nil, fmt.Errorf("%w: scorer %q", ErrUnknownMethod, method)
	}
}

// NewMedianScorer scores each client by its Euclidean distance to the
// coordinate-wise median of the round's healthy submissions.
func NewMedianScorer() AnomalyScorer {
	return &distanceScorer{reference: coordinateMedian, distance: euclidean}
}

func NewMeanScorer() AnomalyScorer {
	return &distanceScorer{reference: coordinateMean, distance: euclidean}
}

// NewCosineScorer scores by angular disagreement with the coordinate-wise
// median, which ignores the magnitude of an update.
func NewCosineScorer() AnomalyScorer {
	return &distanceScorer{reference: coordinateMedian, distance: cosineDistance}
}

func (s *distanceScorer) Score(reports []ClientReport) (ScoreVector, error) {
	scores := make(ScoreVector, len(reports))
	healthy := make([]int, 0, len(reports))
	for i, r := range reports {
		scores[i] = Score{ClientID: r.ClientID}
		if r.Failed || !r.Parameters.IsFinite() {
			scores[i].Value = FailedScore
			scores[i].Failed = true

			continue
		}
		healthy = append(healthy, i)
	}

	if len(healthy) < 2 {
		return scores, nil
	}

	vectors := make([][]float64, len(healthy))
	for j, i := range healthy {
		vectors[j] = reports[i].Parameters.Flatten()
		if len(vectors[j]) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: client %s submitted %d values, expected %d", ErrShapeMismatch, reports[i].ClientID, len(vectors[j]), len(vectors[0]))
		}
	}

	ref, err := s.reference(vectors)
	if err != nil {
		return nil, err
	}

	for j, i := range healthy {
		d := s.distance(vectors[j], ref)
		if math.IsNaN(d) || math.IsInf(d, 1) {
			d = FailedScore
		}
		scores[i].Value = math.Max(d, 0)
	}

	return scores, nil
}

func coordinateMedian(vectors [][]float64) ([]float64, error) {
	ref := make([]float64, len(vectors[0]))
	column := make([]float64, len(vectors))
	for c := range ref {
		for r, v := range vectors {
			column[r] = v[c]
		}
		m, err := stats.Median(column)
		if err != nil {
			return nil, fmt.Errorf("failed to compute median of coordinate %d: %w", c, err)
		}
		ref[c] = m
	}

	return ref, nil
}

func coordinateMean(vectors [][]float64) ([]float64, error) {
	ref := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		floats.Add(ref, v)
	}
	floats.Scale(1/float64(len(vectors)), ref)

	return ref, nil
}

func euclidean(x, ref []float64) float64 {
	return floats.Distance(x, ref, 2)
}

func cosineDistance(x, ref []float64) float64 {
	nx, nr := floats.Norm(x, 2), floats.Norm(ref, 2)
	switch {
	case nx == 0 && nr == 0:
		return 0
	case nx == 0 || nr == 0:
		return 1
	}

	return math.Max(1-floats.Dot(x, ref)/(nx*nr), 0)
}
