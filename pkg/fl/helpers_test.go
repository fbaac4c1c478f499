package fl_test

import (
	"fmt"
	"testing"

	"github.com/absmach/fedguard/pkg/fl"
	"github.com/stretchr/testify/require"
)

func vector(t *testing.T, w []float64, b float64) fl.ParameterVector {
	t.Helper()

	wt, err := fl.NewTensor("w", []int{len(w)}, w)
	require.NoError(t, err)
	bt, err := fl.NewTensor("b", []int{1}, []float64{b})
	require.NoError(t, err)

	return fl.NewParameterVector(wt, bt)
}

func report(t *testing.T, id string, w []float64, b float64) fl.ClientReport {
	t.Helper()

	return fl.ClientReport{
		ClientID:   id,
		Round:      1,
		Parameters: vector(t, w, b),
		NumSamples: 10,
	}
}

func clientID(i int) string {
	return fmt.Sprintf("client-%02d", i)
}

// honestWithOutlier returns n reports with identical parameters except the
// one at index outlier, whose values are scaled by factor.
func honestWithOutlier(t *testing.T, n, outlier int, factor float64) []fl.ClientReport {
	t.Helper()

	base := []float64{0.5, -1.25, 2, 0.75}
	reports := make([]fl.ClientReport, n)
	for i := range reports {
		w := append([]float64(nil), base...)
		b := 0.1
		if i == outlier {
			for j := range w {
				w[j] *= factor
			}
			b *= factor
		}
		reports[i] = report(t, clientID(i), w, b)
	}

	return reports
}
