// Package prepare implements the application prepare routine: it plans the
// set of nodes that should be active for one application's cluster at a
// given group count, re-homing or retiring any surplus left over from a
// shrink, and delegating fresh allocation to a GroupPreparer.
package prepare

import (
	"context"
	"time"

	"github.com/cuemby/hostctl/internal/obsmetrics"
	"github.com/cuemby/hostctl/pkg/domain"
)

// Preparer runs the prepare algorithm against a node repository and a
// GroupPreparer collaborator.
type Preparer struct {
	Repo          domain.NodeRepository
	GroupPreparer GroupPreparer
	Clock         func() time.Time
}

// New returns a Preparer with Clock defaulted to time.Now.
func New(repo domain.NodeRepository, gp GroupPreparer) *Preparer {
	return &Preparer{Repo: repo, GroupPreparer: gp, Clock: time.Now}
}

// Prepare returns the nodes that would be active if this plan is committed.
// It may persist changes to the reserved and inactive node sets via
// Repo.PutNodes, but never changes the set of active nodes directly; that is
// left to a later activate step outside this package's scope.
func (p *Preparer) Prepare(ctx context.Context, applicationID string, cluster domain.ClusterSpec, nodes int, flavor string, wantedGroups int) ([]domain.Node, error) {
	timer := obsmetrics.NewTimer()
	defer timer.ObserveDuration(obsmetrics.PrepareDuration)

	if cluster.Group != nil && wantedGroups > 1 {
		return nil, &ArgumentError{Msg: "clusterSpec.group is set and wantedGroups > 1"}
	}
	if wantedGroups <= 0 {
		return nil, &ArgumentError{Msg: "wantedGroups must be positive"}
	}
	if nodes != 0 && nodes%wantedGroups != 0 {
		return nil, &ArgumentError{Msg: "nodes must be evenly divisible by wantedGroups"}
	}

	var surplus []domain.Node
	if cluster.Group == nil {
		s, err := p.findNodesInRemovableGroups(ctx, applicationID, cluster, wantedGroups)
		if err != nil {
			return nil, err
		}
		surplus = s
	}

	highestIndex, err := p.highestIndex(ctx, applicationID, cluster)
	if err != nil {
		return nil, err
	}

	perGroup := 0
	if wantedGroups > 0 {
		perGroup = nodes / wantedGroups
	}

	var accepted []domain.Node
	for g := 0; g < wantedGroups; g++ {
		groupCluster := cluster
		if cluster.Group == nil {
			generated := domain.GeneratedGroup(g)
			groupCluster.Group = &generated
		}

		got, err := p.GroupPreparer.PrepareGroup(ctx, applicationID, flavor, groupCluster, perGroup, &surplus, &highestIndex)
		if err != nil {
			return nil, err
		}
		accepted = replace(accepted, got)
	}

	targetGroup := domain.GeneratedGroup(0)
	if cluster.Group != nil {
		targetGroup = *cluster.Group
	}
	moveToActiveGroup(surplus, wantedGroups, targetGroup)

	retired := p.retire(surplus)
	accepted = replace(accepted, retired)
	if len(retired) > 0 {
		obsmetrics.PrepareRetiredNodesTotal.Add(float64(len(retired)))
	}

	var toPersist []domain.Node
	for _, n := range accepted {
		if n.State != domain.StateActive {
			toPersist = append(toPersist, n)
		}
	}
	if err := p.Repo.PutNodes(ctx, toPersist); err != nil {
		return nil, err
	}

	return accepted, nil
}

// findNodesInRemovableGroups returns active nodes in this cluster whose
// group index is at or beyond wantedGroups.
func (p *Preparer) findNodesInRemovableGroups(ctx context.Context, applicationID string, cluster domain.ClusterSpec, wantedGroups int) ([]domain.Node, error) {
	actives, err := p.Repo.GetNodes(ctx, applicationID, domain.StateActive)
	if err != nil {
		return nil, err
	}

	var surplus []domain.Node
	for _, n := range actives {
		if !sameCluster(n, cluster) {
			continue
		}
		idx, ok := n.GroupIndex()
		if ok && idx >= wantedGroups {
			surplus = append(surplus, n)
		}
	}
	return surplus, nil
}

// highestIndex returns the maximum per-cluster ordinal across active and
// failed nodes, or -1 if none exist. Failed nodes are included so their
// ordinals are never reused.
func (p *Preparer) highestIndex(ctx context.Context, applicationID string, cluster domain.ClusterSpec) (int, error) {
	nodes, err := p.Repo.GetNodes(ctx, applicationID, domain.StateActive, domain.StateFailed)
	if err != nil {
		return 0, err
	}

	highest := -1
	for _, n := range nodes {
		if !sameCluster(n, cluster) || n.Allocation == nil {
			continue
		}
		if n.Allocation.Membership.Index > highest {
			highest = n.Allocation.Membership.Index
		}
	}
	return highest, nil
}

func sameCluster(n domain.Node, cluster domain.ClusterSpec) bool {
	if n.Allocation == nil {
		return false
	}
	c := n.Allocation.Membership.Cluster
	return c.ID == cluster.ID && c.Type == cluster.Type
}

// moveToActiveGroup rewrites the membership of every surplus node whose
// group is at or beyond wantedGroups to targetGroup, so a retired node never
// leaves an orphaned group behind.
func moveToActiveGroup(surplus []domain.Node, wantedGroups int, targetGroup domain.Group) {
	for i := range surplus {
		n := &surplus[i]
		if n.Allocation == nil {
			continue
		}
		idx, ok := n.GroupIndex()
		if ok && idx >= wantedGroups {
			g := targetGroup
			n.Allocation.Membership.Cluster.Group = &g
		}
	}
}

// retire produces a retired copy of every surplus node that is not
// removable, timestamped with the Preparer's clock.
func (p *Preparer) retire(surplus []domain.Node) []domain.Node {
	now := p.Clock()
	var retired []domain.Node
	for _, n := range surplus {
		if n.Allocation != nil && n.Allocation.Removable {
			continue
		}
		copy := n
		if copy.Allocation != nil {
			alloc := *copy.Allocation
			alloc.RetiredAt = &now
			copy.Allocation = &alloc
		}
		copy.State = domain.StateInactive
		retired = append(retired, copy)
	}
	return retired
}

// replace performs a set-like union where incoming entries win: any prior
// entry equal (by Node.Equal) to an incoming one is dropped, then the
// incoming entries are appended.
func replace(existing, incoming []domain.Node) []domain.Node {
	if len(incoming) == 0 {
		return existing
	}

	out := make([]domain.Node, 0, len(existing)+len(incoming))
	for _, e := range existing {
		overridden := false
		for _, in := range incoming {
			if e.Equal(in) {
				overridden = true
				break
			}
		}
		if !overridden {
			out = append(out, e)
		}
	}
	return append(out, incoming...)
}
