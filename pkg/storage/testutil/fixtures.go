// Package testutil holds fixtures and a behavioural suite shared by the
// history backends' tests.
package testutil

import (
	"context"
	"testing"
	"time"

	pkgerrors "github.com/absmach/fedguard/pkg/errors"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type RoundRepository interface {
	Create(ctx context.Context, m fl.RoundMetrics) error
	Get(ctx context.Context, runID string, round uint64) (fl.RoundMetrics, error)
	List(ctx context.Context, runID string, offset, limit uint64) ([]fl.RoundMetrics, uint64, error)
}

type ModelRepository interface {
	SaveModel(ctx context.Context, runID string, state fl.GlobalModelState) error
	LoadModel(ctx context.Context, runID string, round uint64) (fl.GlobalModelState, error)
	LatestModel(ctx context.Context, runID string) (fl.GlobalModelState, error)
}

// RunID returns an identifier safe for every backend.
func RunID() string {
	return uuid.NewString()
}

func TestRound(runID string, round uint64) fl.RoundMetrics {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return fl.RoundMetrics{
		RunID:        runID,
		Round:        round,
		Status:       fl.RoundCompleted,
		Participants: 3,
		Excluded:     1,
		Scores: fl.ScoreVector{
			{ClientID: "client-a", Value: 0.1},
			{ClientID: "client-b", Value: 0.2},
			{ClientID: "client-c", Value: 42},
		},
		Decision: fl.TrustDecision{
			Method:   fl.ThresholdMAD,
			Boundary: 0.5,
			Entries: []fl.Trust{
				{ClientID: "client-a", Included: true},
				{ClientID: "client-b", Included: true},
				{ClientID: "client-c", Reason: "score above boundary"},
			},
		},
		Weights: fl.WeightVector{
			{ClientID: "client-a", Value: 0.5},
			{ClientID: "client-b", Value: 0.5},
			{ClientID: "client-c"},
		},
		TestMetrics: &fl.Metrics{Loss: 0.3, Accuracy: 0.9},
		ModelRound:  round,
		StartedAt:   now.Add(-time.Second),
		FinishedAt:  now,
	}
}

func TestModel(t *testing.T, round uint64) fl.GlobalModelState {
	t.Helper()

	w, err := fl.NewTensor("w", []int{2, 2}, []float64{1, 2, 3, float64(round)})
	require.NoError(t, err)
	b, err := fl.NewTensor("b", []int{1}, []float64{-0.5})
	require.NoError(t, err)

	return fl.GlobalModelState{
		Round:      round,
		Parameters: fl.NewParameterVector(w, b),
		UpdatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

// RunRepositoryTests checks the behaviour every backend must share.
func RunRepositoryTests(t *testing.T, rounds RoundRepository, models ModelRepository) {
	t.Helper()

	t.Run("round create and get", func(t *testing.T) {
		ctx := context.Background()
		runID := RunID()
		want := TestRound(runID, 1)

		require.NoError(t, rounds.Create(ctx, want))

		got, err := rounds.Get(ctx, runID, 1)
		require.NoError(t, err)
		assert.Equal(t, want.RunID, got.RunID)
		assert.Equal(t, want.Round, got.Round)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, want.Scores, got.Scores)
		assert.Equal(t, want.Decision, got.Decision)
		assert.Equal(t, want.Weights, got.Weights)
		assert.Equal(t, want.TestMetrics, got.TestMetrics)
		assert.True(t, want.FinishedAt.Equal(got.FinishedAt))
	})

	t.Run("round is append only", func(t *testing.T) {
		ctx := context.Background()
		runID := RunID()

		require.NoError(t, rounds.Create(ctx, TestRound(runID, 1)))
		err := rounds.Create(ctx, TestRound(runID, 1))
		assert.ErrorIs(t, err, pkgerrors.ErrEntityExists)
	})

	t.Run("round not found", func(t *testing.T) {
		_, err := rounds.Get(context.Background(), RunID(), 7)
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})

	t.Run("round list pages in order", func(t *testing.T) {
		ctx := context.Background()
		runID := RunID()
		other := RunID()
		for _, r := range []uint64{3, 1, 10, 2} {
			require.NoError(t, rounds.Create(ctx, TestRound(runID, r)))
		}
		require.NoError(t, rounds.Create(ctx, TestRound(other, 1)))

		page, total, err := rounds.List(ctx, runID, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), total)
		require.Len(t, page, 4)
		for i, want := range []uint64{1, 2, 3, 10} {
			assert.Equal(t, want, page[i].Round)
		}

		page, total, err = rounds.List(ctx, runID, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), total)
		require.Len(t, page, 2)
		assert.Equal(t, uint64(2), page[0].Round)
		assert.Equal(t, uint64(3), page[1].Round)

		page, total, err = rounds.List(ctx, runID, 10, 5)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), total)
		assert.Empty(t, page)
	})

	t.Run("model save and load", func(t *testing.T) {
		ctx := context.Background()
		runID := RunID()
		want := TestModel(t, 2)

		require.NoError(t, models.SaveModel(ctx, runID, want))

		got, err := models.LoadModel(ctx, runID, 2)
		require.NoError(t, err)
		assert.Equal(t, want.Round, got.Round)
		assert.True(t, got.Parameters.SameLayout(want.Parameters))
		assert.Equal(t, want.Parameters.Flatten(), got.Parameters.Flatten())
		assert.WithinDuration(t, want.UpdatedAt, got.UpdatedAt, time.Second)

		err = models.SaveModel(ctx, runID, want)
		assert.ErrorIs(t, err, pkgerrors.ErrEntityExists)
	})

	t.Run("latest model", func(t *testing.T) {
		ctx := context.Background()
		runID := RunID()

		_, err := models.LatestModel(ctx, runID)
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

		for _, r := range []uint64{0, 5, 2} {
			require.NoError(t, models.SaveModel(ctx, runID, TestModel(t, r)))
		}
		require.NoError(t, models.SaveModel(ctx, RunID(), TestModel(t, 9)))

		latest, err := models.LatestModel(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), latest.Round)
		assert.Equal(t, 5.0, latest.Parameters.Flatten()[3])
	})

	t.Run("model not found", func(t *testing.T) {
		_, err := models.LoadModel(context.Background(), RunID(), 1)
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})
}
