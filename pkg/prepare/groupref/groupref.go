// Package groupref supplies a reference prepare.GroupPreparer: it reuses
// surplus nodes handed to it before minting new ones with generated
// hostnames, the way an operator driving Prepare by hand would when there is
// no richer node-repository storage layer to reuse node identities from.
package groupref

import (
	"context"
	"fmt"

	"github.com/cuemby/hostctl/pkg/domain"
	"github.com/google/uuid"
)

// Preparer is the reference prepare.GroupPreparer. It is not a production
// allocator: it only knows how to reuse surplus and mint placeholder
// hostnames, with no resource-fit or affinity modeling.
type Preparer struct{}

// New returns a reference Preparer.
func New() *Preparer {
	return &Preparer{}
}

// PrepareGroup reuses entries from *surplus (removing each one it takes),
// then mints fresh nodes with indices starting at *highestIndex+1, advancing
// *highestIndex as it goes.
func (Preparer) PrepareGroup(_ context.Context, applicationID string, flavor string, group domain.ClusterSpec, count int, surplus *[]domain.Node, highestIndex *int) ([]domain.Node, error) {
	out := make([]domain.Node, 0, count)

	for len(out) < count && len(*surplus) > 0 {
		n := (*surplus)[0]
		*surplus = (*surplus)[1:]

		if n.Allocation == nil {
			continue
		}
		n.Allocation.Membership.Cluster = group
		n.State = domain.StateActive
		out = append(out, n)
	}

	for len(out) < count {
		*highestIndex++
		out = append(out, domain.Node{
			Hostname: fmt.Sprintf("node-%s", uuid.NewString()),
			Flavor:   flavor,
			State:    domain.StateActive,
			Allocation: &domain.Allocation{
				ApplicationID: applicationID,
				Membership: domain.ClusterMembership{
					Cluster: group,
					Index:   *highestIndex,
				},
				Removable: true,
			},
		})
	}

	return out, nil
}
