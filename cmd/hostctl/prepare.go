package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/hostctl/internal/repotest"
	"github.com/cuemby/hostctl/pkg/domain"
	"github.com/cuemby/hostctl/pkg/prepare"
	"github.com/cuemby/hostctl/pkg/prepare/groupref"
	"github.com/spf13/cobra"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Run the application prepare routine against a scratch repository fixture",
}

var preparePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute and print the node plan for an application's cluster",
	RunE:  runPreparePlan,
}

func init() {
	preparePlanCmd.Flags().String("app", "demo-app", "Application id")
	preparePlanCmd.Flags().String("cluster", "demo-cluster", "Cluster id")
	preparePlanCmd.Flags().String("flavor", "standard", "Node flavor")
	preparePlanCmd.Flags().Int("nodes", 4, "Total nodes across all groups")
	preparePlanCmd.Flags().Int("groups", 2, "Number of groups to distribute nodes across")

	prepareCmd.AddCommand(preparePlanCmd)
}

func runPreparePlan(cmd *cobra.Command, _ []string) error {
	appID, _ := cmd.Flags().GetString("app")
	clusterID, _ := cmd.Flags().GetString("cluster")
	flavor, _ := cmd.Flags().GetString("flavor")
	nodes, _ := cmd.Flags().GetInt("nodes")
	groups, _ := cmd.Flags().GetInt("groups")

	dir, err := os.MkdirTemp("", "hostctl-prepare-plan-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	repo, err := repotest.Open(dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	preparer := prepare.New(repo, groupref.New())
	cluster := domain.ClusterSpec{ID: clusterID, Type: "worker"}

	accepted, err := preparer.Prepare(context.Background(), appID, cluster, nodes, flavor, groups)
	if err != nil {
		return err
	}

	fmt.Printf("plan for application %q, cluster %q (%d nodes across %d groups):\n", appID, clusterID, nodes, groups)
	for _, n := range accepted {
		idx, _ := n.GroupIndex()
		fmt.Printf("  %s  group=%d  index=%d  state=%s\n", n.Hostname, idx, n.Allocation.Membership.Index, n.State)
	}
	return nil
}
