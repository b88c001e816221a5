package prepare

import (
	"context"

	"github.com/cuemby/hostctl/pkg/domain"
)

// GroupPreparer fills one cluster group with count nodes, reusing surplus
// nodes handed to it and allocating fresh ones with indices above
// highestIndex. Both pointers are mutated in place: a reused surplus node is
// removed from *surplus, and *highestIndex advances past every index this
// call consumes.
type GroupPreparer interface {
	PrepareGroup(ctx context.Context, applicationID string, flavor string, group domain.ClusterSpec, count int, surplus *[]domain.Node, highestIndex *int) ([]domain.Node, error)
}
