package groupref

import (
	"context"
	"testing"

	"github.com/cuemby/hostctl/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareGroupReusesSurplusBeforeMinting(t *testing.T) {
	g2 := domain.GeneratedGroup(2)
	surplus := []domain.Node{
		{
			Hostname: "reuse-me",
			State:    domain.StateActive,
			Allocation: &domain.Allocation{
				ApplicationID: "app1",
				Membership: domain.ClusterMembership{
					Cluster: domain.ClusterSpec{ID: "c1", Type: "worker", Group: &g2},
					Index:   7,
				},
			},
		},
	}
	highestIndex := 7

	p := New()
	targetGroup := domain.GeneratedGroup(0)
	group := domain.ClusterSpec{ID: "c1", Type: "worker", Group: &targetGroup}

	out, err := p.PrepareGroup(context.Background(), "app1", "standard", group, 3, &surplus, &highestIndex)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Empty(t, surplus, "the single surplus node is consumed")

	reused := out[0]
	assert.Equal(t, "reuse-me", reused.Hostname)
	assert.Equal(t, 7, reused.Allocation.Membership.Index, "reused node keeps its index")
	idx, ok := reused.GroupIndex()
	require.True(t, ok)
	assert.Equal(t, 0, idx, "reused node is rewritten into the target group")

	for _, minted := range out[1:] {
		assert.NotEmpty(t, minted.Hostname)
		assert.NotEqual(t, "reuse-me", minted.Hostname)
	}
	assert.Equal(t, 9, highestIndex, "two fresh nodes advance highestIndex by 2")
}

func TestPrepareGroupMintsOnlyWhenNoSurplus(t *testing.T) {
	var surplus []domain.Node
	highestIndex := -1

	p := New()
	group := domain.ClusterSpec{ID: "c1", Type: "worker"}

	out, err := p.PrepareGroup(context.Background(), "app1", "standard", group, 2, &surplus, &highestIndex)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, highestIndex)
	assert.Equal(t, 0, out[0].Allocation.Membership.Index)
	assert.Equal(t, 1, out[1].Allocation.Membership.Index)
}
