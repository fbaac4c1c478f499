package sim

import (
	"fmt"
	"math/rand/v2"
)

// Dataset is a dense binary classification set held in memory.
type Dataset struct {
	X [][]float64
	Y []float64
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}

	return len(d.Y)
}

func (d *Dataset) Dim() int {
	if d.Len() == 0 {
		return 0
	}

	return len(d.X[0])
}

// GaussianDataset draws n points from two isotropic unit gaussians centred at
// -separation and +separation on every axis, labelled 0 and 1 alternately.
func GaussianDataset(n, dim int, separation float64, seed uint64) *Dataset {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	d := &Dataset{
		X: make([][]float64, n),
		Y: make([]float64, n),
	}
	for i := range n {
		label := float64(i % 2)
		centre := separation
		if label == 0 {
			centre = -separation
		}
		x := make([]float64, dim)
		for j := range x {
			x[j] = centre + rng.NormFloat64()
		}
		d.X[i] = x
		d.Y[i] = label
	}

	return d
}

// PartitionIID deals the points round-robin into n shards, so every shard
// keeps the class balance of the source.
func PartitionIID(data *Dataset, n int) ([]*Dataset, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid shard count %d", n)
	}
	if data.Len() < n {
		return nil, fmt.Errorf("cannot split %d samples into %d shards", data.Len(), n)
	}

	shards := make([]*Dataset, n)
	for i := range shards {
		shards[i] = &Dataset{}
	}
	for i := range data.Y {
		s := shards[i%n]
		s.X = append(s.X, data.X[i])
		s.Y = append(s.Y, data.Y[i])
	}

	return shards, nil
}
