// Package loadbalancer implements a deterministic weighted round-robin
// dispatcher: a deficit cursor walks the caller's candidate list in order,
// and per-candidate weights adapt on busy feedback. It is not safe for
// concurrent use; callers serialize Select and Report externally.
package loadbalancer

import (
	"time"

	"github.com/cuemby/hostctl/internal/obsmetrics"
	"github.com/cuemby/hostctl/pkg/domain"
)

// increaseFactor rescales every tracked weight upward when a penalty would
// otherwise push a node below the 1.0 floor, preserving relative ordering.
const increaseFactor = 100.0 / 99.0

// Balancer is a single cluster's weighted round-robin state. Weights and
// position are unguarded; New(s) are intended to be per-cluster and
// single-threaded.
type Balancer struct {
	clusterName string
	position    float64
	weights     map[int]*domain.NodeMetrics
}

// New returns a Balancer for the named cluster, used only to label metrics.
func New(clusterName string) *Balancer {
	return &Balancer{
		clusterName: clusterName,
		weights:     make(map[int]*domain.NodeMetrics),
	}
}

func (b *Balancer) metricsFor(idx int) *domain.NodeMetrics {
	m, ok := b.weights[idx]
	if !ok {
		m = domain.NewNodeMetrics()
		b.weights[idx] = m
	}
	return m
}

// Select chooses one candidate by deficit cursor. It returns false iff
// candidates is empty, and an *ArgumentError if any candidate name cannot be
// parsed.
func (b *Balancer) Select(candidates []Candidate) (Candidate, bool, error) {
	if len(candidates) == 0 {
		return Candidate{}, false, nil
	}

	var weightSum float64
	selected := -1
	for i, c := range candidates {
		idx, err := index(c.Name)
		if err != nil {
			return Candidate{}, false, err
		}
		weightSum += b.metricsFor(idx).Weight
		if selected < 0 && weightSum > b.position {
			selected = i
		}
	}

	if selected < 0 {
		selected = 0
		b.position -= weightSum
	}
	b.position += 1.0

	chosen := candidates[selected]
	idx, err := index(chosen.Name)
	if err != nil {
		return Candidate{}, false, err
	}
	b.metricsFor(idx).Sent++

	obsmetrics.LBSelectionsTotal.WithLabelValues(b.clusterName).Inc()
	obsmetrics.LBPosition.WithLabelValues(b.clusterName).Set(b.position)

	return chosen, true, nil
}

// Report records feedback for a completed send. busy == false is a no-op.
func (b *Balancer) Report(node Candidate, busy bool) error {
	if !busy {
		return nil
	}

	idx, err := index(node.Name)
	if err != nil {
		return err
	}

	m := b.metricsFor(idx)
	m.Busy++
	m.LastReportAt = time.Now()

	want := m.Weight - 0.01
	if want >= 1.0 {
		m.Weight = want
	} else {
		b.increaseWeights()
		m.Weight = 1.0
	}

	obsmetrics.LBBusyReportsTotal.WithLabelValues(b.clusterName).Inc()
	return nil
}

func (b *Balancer) increaseWeights() {
	for _, m := range b.weights {
		m.Weight = max(1.0, m.Weight*increaseFactor)
	}
}

// Snapshot returns a read-only copy of per-index metrics for debug
// endpoints.
func (b *Balancer) Snapshot() map[int]domain.NodeMetrics {
	out := make(map[int]domain.NodeMetrics, len(b.weights))
	for idx, m := range b.weights {
		out[idx] = *m
	}
	return out
}
