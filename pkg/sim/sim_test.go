package sim_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/absmach/fedguard/pkg/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianDatasetIsSeeded(t *testing.T) {
	t.Parallel()

	a := sim.GaussianDataset(20, 3, 2, 7)
	b := sim.GaussianDataset(20, 3, 2, 7)
	c := sim.GaussianDataset(20, 3, 2, 8)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.X, c.X)
	assert.Equal(t, 20, a.Len())
	assert.Equal(t, 3, a.Dim())
}

func TestPartitionIID(t *testing.T) {
	t.Parallel()

	data := sim.GaussianDataset(10, 2, 1, 1)

	shards, err := sim.PartitionIID(data, 3)
	require.NoError(t, err)
	require.Len(t, shards, 3)
	assert.Equal(t, []int{4, 3, 3}, []int{shards[0].Len(), shards[1].Len(), shards[2].Len()})
	assert.Equal(t, data.X[4], shards[1].X[1])

	_, err = sim.PartitionIID(data, 0)
	assert.Error(t, err)
	_, err = sim.PartitionIID(data, 11)
	assert.Error(t, err)
}

func TestLogisticUnitLearns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	train := sim.GaussianDataset(200, 4, 1.5, 1)
	test := sim.GaussianDataset(200, 4, 1.5, 2)

	unit := sim.NewLogisticUnit(4, 0.5)
	before, err := unit.Evaluate(ctx, test)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2), before.Loss, 1e-9)

	require.NoError(t, unit.Train(ctx, train, 30))
	after, err := unit.Evaluate(ctx, test)
	require.NoError(t, err)
	assert.Less(t, after.Loss, before.Loss)
	assert.Greater(t, after.Accuracy, 0.9)

	params := unit.Parameters()
	other := sim.NewLogisticUnit(4, 0.5)
	require.NoError(t, other.SetParameters(params))
	assert.Equal(t, params.Flatten(), other.Parameters().Flatten())
}

func TestLogisticUnitRejectsMismatch(t *testing.T) {
	t.Parallel()

	unit := sim.NewLogisticUnit(3, 0.1)

	wrong, err := sim.InitialParameters(4)
	require.NoError(t, err)
	assert.ErrorIs(t, unit.SetParameters(wrong), fl.ErrShapeMismatch)

	err = unit.Train(context.Background(), sim.GaussianDataset(4, 5, 1, 1), 1)
	assert.ErrorIs(t, err, fl.ErrShapeMismatch)
}

func TestByzantineUnitAttacks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	data := sim.GaussianDataset(40, 2, 1.5, 3)

	honest := sim.NewLogisticUnit(2, 0.5)
	require.NoError(t, honest.Train(ctx, data, 1))
	reference := honest.Parameters().Flatten()

	cases := []struct {
		attack sim.Attack
		check  func(t *testing.T, got []float64)
	}{
		{attack: sim.AttackScale, check: func(t *testing.T, got []float64) {
			for i := range got {
				assert.InDelta(t, 10*reference[i], got[i], 1e-12)
			}
		}},
		{attack: sim.AttackSignFlip, check: func(t *testing.T, got []float64) {
			for i := range got {
				assert.InDelta(t, -reference[i], got[i], 1e-12)
			}
		}},
		{attack: sim.AttackNoise, check: func(t *testing.T, got []float64) {
			assert.NotEqual(t, reference, got)
		}},
		{attack: sim.AttackNaN, check: func(t *testing.T, got []float64) {
			assert.True(t, math.IsNaN(got[0]))
		}},
	}

	for _, tc := range cases {
		t.Run(string(tc.attack), func(t *testing.T) {
			t.Parallel()
			unit := sim.NewByzantineUnit(sim.NewLogisticUnit(2, 0.5), tc.attack, 10, 1, 1)

			require.NoError(t, unit.Train(ctx, data, 1))
			tc.check(t, unit.Parameters().Flatten())

			params, err := sim.InitialParameters(2)
			require.NoError(t, err)
			require.NoError(t, unit.SetParameters(params))
			require.NoError(t, unit.Train(ctx, data, 1))
			assert.Equal(t, reference, unit.Parameters().Flatten(), "second call is honest")
		})
	}
}

func TestByzantineUnitStalls(t *testing.T) {
	t.Parallel()

	unit := sim.NewByzantineUnit(sim.NewLogisticUnit(2, 0.5), sim.AttackStall, 0, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := unit.Train(ctx, sim.GaussianDataset(4, 2, 1, 1), 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRotatingUnitsTakeTurns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	data := sim.GaussianDataset(8, 2, 1.5, 4)
	const period = 3

	for index := range period {
		unit := sim.NewRotatingUnit(sim.NewLogisticUnit(2, 0.5), sim.AttackNaN, 0, 1, index, period)
		for call := 1; call <= 2*period; call++ {
			require.NoError(t, unit.Train(ctx, data, 1))
			attacked := math.IsNaN(unit.Parameters().Flatten()[0])
			assert.Equal(t, (call-1)%period == index, attacked, "unit %d call %d", index, call)
			params, err := sim.InitialParameters(2)
			require.NoError(t, err)
			require.NoError(t, unit.SetParameters(params))
		}
	}
}

func TestByzantineUnitFollowsNodeRounds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	initial, err := sim.InitialParameters(2)
	require.NoError(t, err)
	unit := sim.NewByzantineUnit(sim.NewLogisticUnit(2, 0.5), sim.AttackNaN, 0, 1, 3, 7)
	n := node.NewNode("client-00", unit, sim.GaussianDataset(8, 2, 1.5, 4), 1)

	// Sparse rounds, as a sampling selector would hand them out.
	for _, round := range []uint64{2, 3, 5, 7, 8} {
		r := n.TrainRound(ctx, round, initial)
		attacked := round == 3 || round == 7
		assert.Equal(t, attacked, r.Failed, "round %d", round)
		if attacked {
			assert.Contains(t, r.Reason, fl.ErrCorruptUpdate.Error())
		}
	}
}

func TestNewFederation(t *testing.T) {
	t.Parallel()

	cfg := sim.DefaultConfig()
	cfg.Byzantine = 2

	fed, err := sim.NewFederation(cfg, 5, 2, 42)
	require.NoError(t, err)
	require.Len(t, fed.Nodes, 5)
	for _, n := range fed.Nodes {
		assert.Equal(t, cfg.SamplesPerClient, n.Samples())
		assert.Equal(t, 2, n.Epochs)
	}
	assert.Equal(t, cfg.TestSamples, fed.Test.Len())
	assert.Equal(t, cfg.Features+1, fed.Initial.Len())

	m, err := fed.Evaluator.Evaluate(context.Background(), fed.Initial)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2), m.Loss, 1e-9)

	cfg.Attack = "bitflip"
	_, err = sim.NewFederation(cfg, 5, 2, 42)
	assert.Error(t, err)
}
