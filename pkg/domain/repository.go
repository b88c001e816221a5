package domain

import "context"

// NodeRepository is the authoritative store of desired node state. It is an
// external collaborator: hostctl never implements repository persistence
// semantics (that remains out of scope), only consumes this surface.
type NodeRepository interface {
	// GetContainersToRun returns the containers that should be running on
	// the calling host.
	GetContainersToRun(ctx context.Context) ([]ContainerSpec, error)

	// GetNodes returns nodes for an application, optionally filtered by
	// state.
	GetNodes(ctx context.Context, applicationID string, states ...NodeState) ([]Node, error)

	// PutNodes persists changes to the reserved/inactive node sets. Active
	// nodes are never written here (see Prepare's contract).
	PutNodes(ctx context.Context, nodes []Node) error
}
