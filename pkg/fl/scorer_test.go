package fl_test

import (
	"math"
	"testing"

	"github.com/absmach/fedguard/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScorer(t *testing.T) {
	t.Parallel()

	for _, method := range []string{"", fl.ScoreMedian, fl.ScoreMean, fl.ScoreCosine} {
		s, err := fl.NewScorer(method)
		require.NoError(t, err, method)
		assert.NotNil(t, s)
	}

	_, err := fl.NewScorer("krum")
	assert.ErrorIs(t, err, fl.ErrUnknownMethod)
}

func TestMedianScorer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc    string
		reports []fl.ClientReport
		check   func(t *testing.T, scores fl.ScoreVector)
	}{
		{
			desc: "identical submissions score zero",
			reports: []fl.ClientReport{
				report(t, "a", []float64{1, 2}, 3),
				report(t, "b", []float64{1, 2}, 3),
				report(t, "c", []float64{1, 2}, 3),
			},
			check: func(t *testing.T, scores fl.ScoreVector) {
				for _, s := range scores {
					assert.Zero(t, s.Value, s.ClientID)
				}
			},
		},
		{
			desc:    "outlier scores above honest clients",
			reports: honestWithOutlier(t, 5, 3, 100),
			check: func(t *testing.T, scores fl.ScoreVector) {
				for i, s := range scores {
					if i == 3 {
						assert.Greater(t, s.Value, 100.0)

						continue
					}
					assert.Zero(t, s.Value)
				}
			},
		},
		{
			desc: "single healthy report scores zero",
			reports: []fl.ClientReport{
				report(t, "a", []float64{9, 9}, 9),
				fl.FailedReport("b", 1, "timeout"),
			},
			check: func(t *testing.T, scores fl.ScoreVector) {
				assert.Zero(t, scores[0].Value)
				assert.True(t, scores[1].Failed)
			},
		},
		{
			desc: "failed and non-finite reports get the failed score",
			reports: []fl.ClientReport{
				report(t, "a", []float64{1, 1}, 1),
				fl.FailedReport("b", 1, "training error"),
				report(t, "c", []float64{math.NaN(), 1}, 1),
				report(t, "d", []float64{1, 1}, 1),
			},
			check: func(t *testing.T, scores fl.ScoreVector) {
				for _, id := range []string{"b", "c"} {
					s, ok := scores.Get(id)
					require.True(t, ok)
					assert.True(t, s.Failed, id)
					assert.Equal(t, fl.FailedScore, s.Value, id)
				}
				a, _ := scores.Get("a")
				assert.Zero(t, a.Value)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			scores, err := fl.NewMedianScorer().Score(tc.reports)
			require.NoError(t, err)
			require.Len(t, scores, len(tc.reports))
			for i, r := range tc.reports {
				assert.Equal(t, r.ClientID, scores[i].ClientID, "scores must keep report order")
			}
			tc.check(t, scores)
		})
	}
}

func TestMeanScorer(t *testing.T) {
	t.Parallel()

	scores, err := fl.NewMeanScorer().Score([]fl.ClientReport{
		report(t, "a", []float64{0}, 0),
		report(t, "b", []float64{2}, 0),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores[0].Value, 1e-12)
	assert.InDelta(t, 1.0, scores[1].Value, 1e-12)
}

func TestCosineScorer(t *testing.T) {
	t.Parallel()

	reports := honestWithOutlier(t, 5, 0, 10)
	flipped := reports[4].Parameters.Flatten()
	for i := range flipped {
		flipped[i] = -flipped[i]
	}
	pv, err := reports[4].Parameters.WithFlat(flipped)
	require.NoError(t, err)
	reports[4].Parameters = pv

	scores, err := fl.NewCosineScorer().Score(reports)
	require.NoError(t, err)

	assert.InDelta(t, 0, scores[0].Value, 1e-12, "scaling keeps direction")
	assert.InDelta(t, 0, scores[1].Value, 1e-12)
	assert.InDelta(t, 2, scores[4].Value, 1e-12, "sign flip is maximally distant")
}

func TestScorerShapeMismatch(t *testing.T) {
	t.Parallel()

	_, err := fl.NewMedianScorer().Score([]fl.ClientReport{
		report(t, "a", []float64{1, 2}, 0),
		report(t, "b", []float64{1, 2, 3}, 0),
	})
	assert.ErrorIs(t, err, fl.ErrShapeMismatch)
}
