package grading

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAverageNoStraddleAgreesWithinRange(t *testing.T) {
	strategy, ok := DefaultRegistry().Lookup(StrategyAverageNoStraddle)
	require.True(t, ok)

	grade, agreed := strategy.Agree([]float64{70, 74}, AgreementParams{Range: 5, Rounding: RoundMid})
	require.True(t, agreed)
	require.Equal(t, 72.0, grade)

	_, agreed = strategy.Agree([]float64{60, 90}, AgreementParams{Range: 5, Rounding: RoundMid})
	require.False(t, agreed)
}

func TestAverageNoStraddleRounding(t *testing.T) {
	strategy, _ := DefaultRegistry().Lookup(StrategyAverageNoStraddle)

	cases := []struct {
		rounding Rounding
		want     float64
	}{
		{RoundUp, 72},
		{RoundDown, 71},
		{RoundMid, 72},
	}
	for _, tc := range cases {
		grade, agreed := strategy.Agree([]float64{70, 73}, AgreementParams{Range: 5, Rounding: tc.rounding})
		require.True(t, agreed)
		require.Equal(t, tc.want, grade, "rounding %s", tc.rounding)
	}
}

func TestAverageStraddleRejectsGradesAcrossBoundary(t *testing.T) {
	strategy, ok := DefaultRegistry().Lookup(StrategyAverageStraddle)
	require.True(t, ok)
	params := AgreementParams{Range: 5, Rounding: RoundMid, ClassBoundaries: []float64{40, 50, 60, 70}}

	_, agreed := strategy.Agree([]float64{68, 71}, params)
	require.False(t, agreed, "68 and 71 straddle the 70 boundary")

	grade, agreed := strategy.Agree([]float64{62, 66}, params)
	require.True(t, agreed)
	require.Equal(t, 64.0, grade)
}

func TestStrategiesNeedTwoGrades(t *testing.T) {
	for _, name := range DefaultRegistry().Names() {
		strategy, _ := DefaultRegistry().Lookup(name)
		_, agreed := strategy.Agree([]float64{70}, AgreementParams{Range: 100})
		require.False(t, agreed, name)
	}
}

func TestNoneNeverAgrees(t *testing.T) {
	strategy, ok := DefaultRegistry().Lookup(" NONE ")
	require.True(t, ok)
	_, agreed := strategy.Agree([]float64{70, 70}, AgreementParams{Range: 10})
	require.False(t, agreed)
}

func TestRegistryNames(t *testing.T) {
	require.Equal(t, []string{StrategyAverageNoStraddle, StrategyAverageStraddle, StrategyNone}, DefaultRegistry().Names())
	_, ok := DefaultRegistry().Lookup("median")
	require.False(t, ok)
}

func TestSameClassBoundaryBelongsAbove(t *testing.T) {
	boundaries := []float64{40, 50, 60, 70}
	require.True(t, SameClass([]float64{70, 75}, boundaries))
	require.False(t, SameClass([]float64{69.5, 70}, boundaries))
	require.True(t, SameClass(nil, boundaries))
}
