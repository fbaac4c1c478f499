package node_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samples int

func (s samples) Len() int { return int(s) }

// fakeUnit adds delta to every value on each epoch.
type fakeUnit struct {
	params   fl.ParameterVector
	delta    float64
	trainErr error
	setErr   error
	override *fl.ParameterVector
	epochs   int
}

func (u *fakeUnit) SetParameters(p fl.ParameterVector) error {
	if u.setErr != nil {
		return u.setErr
	}
	u.params = p

	return nil
}

func (u *fakeUnit) Train(_ context.Context, _ node.Dataset, epochs int) error {
	if u.trainErr != nil {
		return u.trainErr
	}
	u.epochs = epochs
	flat := u.params.Flatten()
	for i := range flat {
		flat[i] += u.delta * float64(epochs)
	}
	p, err := u.params.WithFlat(flat)
	if err != nil {
		return err
	}
	u.params = p

	return nil
}

func (u *fakeUnit) Parameters() fl.ParameterVector {
	if u.override != nil {
		return *u.override
	}

	return u.params
}

func (u *fakeUnit) Evaluate(context.Context, node.Dataset) (fl.Metrics, error) {
	return fl.Metrics{}, nil
}

func global(t *testing.T, values ...float64) fl.ParameterVector {
	t.Helper()

	tensor, err := fl.NewTensor("w", []int{len(values)}, values)
	require.NoError(t, err)

	return fl.NewParameterVector(tensor)
}

func TestTrainRound(t *testing.T) {
	t.Parallel()

	nan := global(t, math.NaN(), 1)
	wrongShape := global(t, 1, 2, 3)

	cases := []struct {
		desc   string
		unit   *fakeUnit
		want   []float64
		failed bool
	}{
		{
			desc: "trains from the global parameters",
			unit: &fakeUnit{delta: 0.5},
			want: []float64{2, 3},
		},
		{
			desc:   "training error",
			unit:   &fakeUnit{trainErr: errors.New("diverged")},
			failed: true,
		},
		{
			desc:   "rejected parameters",
			unit:   &fakeUnit{setErr: errors.New("incompatible")},
			failed: true,
		},
		{
			desc:   "non-finite result",
			unit:   &fakeUnit{override: &nan},
			failed: true,
		},
		{
			desc:   "layout change",
			unit:   &fakeUnit{override: &wrongShape},
			failed: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			n := node.NewNode("client", tc.unit, samples(30), 2)
			g := global(t, 1, 2)

			report := n.TrainRound(context.Background(), 4, g)

			assert.Equal(t, n.ID, report.ClientID)
			assert.Equal(t, uint64(4), report.Round)
			assert.Equal(t, tc.failed, report.Failed)
			assert.Equal(t, []float64{1, 2}, g.Flatten(), "global parameters must not change")
			if tc.failed {
				assert.Contains(t, report.Reason, fl.ErrClientTraining.Error())
				assert.True(t, report.Parameters.Empty())

				return
			}
			assert.Equal(t, tc.want, report.Parameters.Flatten())
			assert.Equal(t, 30, report.NumSamples)
			assert.Equal(t, 2, tc.unit.epochs)
		})
	}
}

func TestNewNodeDefaults(t *testing.T) {
	t.Parallel()

	a := node.NewNode("a", &fakeUnit{}, nil, 0)
	b := node.NewNode("b", &fakeUnit{}, samples(3), 5)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 1, a.Epochs)
	assert.Zero(t, a.Samples())
	assert.Equal(t, 3, b.Samples())
}

// blockingUnit trains until released.
type blockingUnit struct {
	fakeUnit
	release chan struct{}
	started chan struct{}
}

func (u *blockingUnit) Train(ctx context.Context, data node.Dataset, epochs int) error {
	close(u.started)
	<-u.release

	return u.fakeUnit.Train(ctx, data, epochs)
}

func TestTrainRoundRejectsOverlap(t *testing.T) {
	t.Parallel()

	unit := &blockingUnit{release: make(chan struct{}), started: make(chan struct{})}
	n := node.NewNode("slow", unit, samples(1), 1)
	g := global(t, 1, 2)

	done := make(chan fl.ClientReport, 1)
	go func() { done <- n.TrainRound(context.Background(), 1, g) }()
	<-unit.started

	busy := n.TrainRound(context.Background(), 2, g)
	assert.True(t, busy.Failed)
	assert.Contains(t, busy.Reason, node.ErrNodeBusy.Error())

	close(unit.release)
	first := <-done
	assert.False(t, first.Failed)

	info := n.Info()
	assert.Equal(t, node.Info{ID: n.ID, Name: "slow", Epochs: 1, Samples: 1}, info)
}

type roundUnit struct {
	fakeUnit
	rounds []uint64
}

func (u *roundUnit) BeginRound(round uint64) {
	u.rounds = append(u.rounds, round)
}

func TestTrainRoundAnnouncesRound(t *testing.T) {
	t.Parallel()

	unit := &roundUnit{fakeUnit: fakeUnit{delta: 1}}
	n := node.NewNode("a", unit, samples(4), 1)

	for _, round := range []uint64{4, 9} {
		r := n.TrainRound(context.Background(), round, global(t, 0))
		require.False(t, r.Failed, r.Reason)
	}
	assert.Equal(t, []uint64{4, 9}, unit.rounds)
}
