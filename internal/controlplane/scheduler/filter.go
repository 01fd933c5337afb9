package scheduler

import (
	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
	"github.com/VerteraIO/edgefleet/internal/controlplane/workloads"
)

// filterNodes returns the ONLINE nodes that satisfy every constraint of w, in
// the order they were given.
func (s *Scheduler) filterNodes(w workloads.Workload, all []nodes.EdgeNode) []nodes.EdgeNode {
	candidates := make([]nodes.EdgeNode, 0, len(all))
	for _, n := range all {
		if s.checkNode(w, n) {
			candidates = append(candidates, n)
		}
	}
	return candidates
}

func (s *Scheduler) checkNode(w workloads.Workload, n nodes.EdgeNode) bool {
	if n.Status != nodes.StatusOnline {
		return false
	}
	for _, c := range w.Placement.Constraints {
		if !matches(c, n) {
			s.log.Debug().Str("workload_id", w.ID).Str("node_id", n.ID).Str("key", c.Key).
				Msg("node filtered by constraint")
			return false
		}
	}
	return true
}

// matches reports whether the node's value for c.Key is one of c.Values.
// region and zone address the node's topology fields, every other key a label.
// A missing label never matches.
func matches(c workloads.Constraint, n nodes.EdgeNode) bool {
	var (
		value string
		ok    bool
	)
	switch c.Key {
	case "region":
		value, ok = n.Region, true
	case "zone":
		value, ok = n.Zone, true
	default:
		value, ok = n.Labels[c.Key]
	}
	if !ok {
		return false
	}
	for _, v := range c.Values {
		if v == value {
			return true
		}
	}
	return false
}
