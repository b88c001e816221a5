package loadbalancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexParsesTrailingSegment(t *testing.T) {
	n, err := index("cluster/x/y.7/z")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = index("cluster/x/7/z")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestIndexRejectsMalformedNames(t *testing.T) {
	_, err := index("too/short")
	assert.Error(t, err)

	_, err = index("cluster/x/not-a-number/z")
	assert.Error(t, err)

	_, err = index("cluster/x/-1/z")
	assert.Error(t, err)
}

func TestSelectReturnsFalseOnEmptyCandidates(t *testing.T) {
	b := New("c")
	_, ok, err := b.Select(nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectRejectsMalformedCandidateName(t *testing.T) {
	b := New("c")
	_, _, err := b.Select([]Candidate{{Name: "bad"}})
	assert.Error(t, err)
}

// TestSelectEvenWeightsDistributesRoundRobin is the even-weights scenario: 3
// candidates all at the 1.0 floor, 6 selects. Every candidate is picked twice.
// Across the run, position only exceeds the total weight once (on the 4th
// call), and that wrap lands exactly on 0.0 before the trailing +1.0 — a
// clean wrap with no overshoot remainder, since total weight divides evenly
// into whole calls here.
func TestSelectEvenWeightsDistributesRoundRobin(t *testing.T) {
	b := New("c")
	candidates := []Candidate{
		{Name: "c/x/0/z"},
		{Name: "c/x/1/z"},
		{Name: "c/x/2/z"},
	}

	counts := map[string]int{}
	for i := 0; i < 6; i++ {
		chosen, ok, err := b.Select(candidates)
		require.NoError(t, err)
		require.True(t, ok)
		counts[chosen.Name]++

		if i == 3 {
			// the wrap call: position was 3 (== total weight), so it
			// decrements to exactly 0 before the +1.0 increment.
			assert.Equal(t, 1.0, b.position)
		}
	}

	assert.Equal(t, 2, counts["c/x/0/z"])
	assert.Equal(t, 2, counts["c/x/1/z"])
	assert.Equal(t, 2, counts["c/x/2/z"])
	assert.Equal(t, 3.0, b.position)
}

// TestReportBusyPenaltyRescalesOtherWeights is the penalty scenario: n0, n1,
// n2 all start at weight 1.0. Reporting n0 busy always computes
// want = 1.0 - 0.01 = 0.99 < 1.0, so every one of the 5 reports takes the
// increaseWeights() path and n0 is reset to exactly 1.0 each time, while n1
// and n2 are bumped upward on every call.
func TestReportBusyPenaltyRescalesOtherWeights(t *testing.T) {
	b := New("c")
	candidates := []Candidate{
		{Name: "c/x/0/z"},
		{Name: "c/x/1/z"},
		{Name: "c/x/2/z"},
	}
	// Establish tracked metrics for all three indices before reporting.
	for i := 0; i < 3; i++ {
		_, _, err := b.Select(candidates)
		require.NoError(t, err)
	}

	n0 := Candidate{Name: "c/x/0/z"}
	var prevN1 float64 = 1.0
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Report(n0, true))

		snap := b.Snapshot()
		assert.InDelta(t, 1.0, snap[0].Weight, 1e-9, "n0 always lands back on the floor")
		assert.Greater(t, snap[1].Weight, prevN1, "n1 is rescaled upward on every penalty")
		prevN1 = snap[1].Weight
	}

	snap := b.Snapshot()
	assert.Equal(t, uint64(5), snap[0].Busy)
}

func TestReportNonBusyIsNoop(t *testing.T) {
	b := New("c")
	candidates := []Candidate{{Name: "c/x/0/z"}}
	_, _, err := b.Select(candidates)
	require.NoError(t, err)

	require.NoError(t, b.Report(candidates[0], false))
	snap := b.Snapshot()
	assert.Equal(t, uint64(0), snap[0].Busy)
	assert.Equal(t, 1.0, snap[0].Weight)
}

// TestWeightFloorNeverDropsBelowOne is the LB floor invariant: no matter how
// many busy reports land on a single node, its weight never drops below 1.0.
func TestWeightFloorNeverDropsBelowOne(t *testing.T) {
	b := New("c")
	n0 := Candidate{Name: "c/x/0/z"}
	for i := 0; i < 50; i++ {
		require.NoError(t, b.Report(n0, true))
		snap := b.Snapshot()
		assert.GreaterOrEqual(t, snap[0].Weight, 1.0)
	}
}

// TestSelectConservationWithUniformWeights is the LB conservation invariant:
// with n candidates all at weight 1.0, m selects distribute within ±1 of
// m/n each.
func TestSelectConservationWithUniformWeights(t *testing.T) {
	b := New("c")
	candidates := []Candidate{
		{Name: "c/x/0/z"},
		{Name: "c/x/1/z"},
		{Name: "c/x/2/z"},
		{Name: "c/x/3/z"},
	}

	const calls = 21
	counts := map[string]int{}
	for i := 0; i < calls; i++ {
		chosen, ok, err := b.Select(candidates)
		require.NoError(t, err)
		require.True(t, ok)
		counts[chosen.Name]++
	}

	expected := calls / len(candidates)
	for _, c := range candidates {
		assert.InDelta(t, expected, counts[c.Name], 1)
	}
}
