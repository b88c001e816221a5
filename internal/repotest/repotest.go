// Package repotest is a bbolt-backed domain.NodeRepository fixture for
// integration tests of Prepare and the convergence loop's repository reads.
// It keeps one bbolt bucket per record kind (nodes, containers), and is not
// a specification of production node-repository storage semantics.
package repotest

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/hostctl/pkg/domain"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes      = []byte("nodes")
	bucketContainers = []byte("containers")
)

// Store is a disk-backed domain.NodeRepository for tests.
type Store struct {
	db *bolt.DB
}

// Open creates (or reopens) a repotest database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "repotest.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("repotest: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketContainers} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("repotest: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetContainersToRun returns every container spec seeded via SeedContainers.
func (s *Store) GetContainersToRun(context.Context) ([]domain.ContainerSpec, error) {
	var out []domain.ContainerSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		return b.ForEach(func(_, v []byte) error {
			var c domain.ContainerSpec
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

// GetNodes returns nodes belonging to applicationID, optionally filtered by
// state.
func (s *Store) GetNodes(_ context.Context, applicationID string, states ...domain.NodeState) ([]domain.Node, error) {
	wanted := make(map[domain.NodeState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}

	var out []domain.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(_, v []byte) error {
			var n domain.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.Allocation == nil || n.Allocation.ApplicationID != applicationID {
				return nil
			}
			if len(wanted) > 0 && !wanted[n.State] {
				return nil
			}
			out = append(out, n)
			return nil
		})
	})
	return out, err
}

// PutNodes upserts each node keyed by hostname.
func (s *Store) PutNodes(_ context.Context, nodes []domain.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		for _, n := range nodes {
			data, err := json.Marshal(n)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(n.Hostname), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// SeedContainers is a test-only helper for populating the containers bucket
// ahead of a GetContainersToRun call.
func (s *Store) SeedContainers(containers []domain.ContainerSpec) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		for _, c := range containers {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(c.Hostname), data); err != nil {
				return err
			}
		}
		return nil
	})
}
