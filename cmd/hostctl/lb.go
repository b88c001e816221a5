package main

import (
	"fmt"

	"github.com/cuemby/hostctl/pkg/loadbalancer"
	"github.com/spf13/cobra"
)

var lbCmd = &cobra.Command{
	Use:   "lb",
	Short: "Exercise the weighted load balancer against synthetic candidates",
}

var lbSimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run select/report against synthetic candidates and print selection/weight statistics",
	RunE:  runLBSimulate,
}

func init() {
	lbSimulateCmd.Flags().Int("candidates", 3, "Number of synthetic candidates")
	lbSimulateCmd.Flags().Int("requests", 12, "Number of select() calls to simulate")
	lbSimulateCmd.Flags().Int("busy-every", 0, "Report the selected candidate busy every N selects (0 disables)")

	lbCmd.AddCommand(lbSimulateCmd)
}

func runLBSimulate(cmd *cobra.Command, _ []string) error {
	numCandidates, _ := cmd.Flags().GetInt("candidates")
	requests, _ := cmd.Flags().GetInt("requests")
	busyEvery, _ := cmd.Flags().GetInt("busy-every")

	candidates := make([]loadbalancer.Candidate, numCandidates)
	for i := range candidates {
		candidates[i] = loadbalancer.Candidate{Name: fmt.Sprintf("demo/x/%d/z", i)}
	}

	b := loadbalancer.New("demo")
	counts := make(map[string]int, numCandidates)

	for i := 0; i < requests; i++ {
		chosen, ok, err := b.Select(candidates)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		counts[chosen.Name]++

		if busyEvery > 0 && (i+1)%busyEvery == 0 {
			if err := b.Report(chosen, true); err != nil {
				return err
			}
		}
	}

	fmt.Println("selection counts:")
	for _, c := range candidates {
		fmt.Printf("  %s: %d\n", c.Name, counts[c.Name])
	}

	fmt.Println("final weights:")
	for idx, m := range b.Snapshot() {
		fmt.Printf("  index %d: weight=%.4f sent=%d busy=%d\n", idx, m.Weight, m.Sent, m.Busy)
	}
	return nil
}
