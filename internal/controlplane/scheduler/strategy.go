package scheduler

import (
	"cmp"
	"slices"

	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
	"github.com/VerteraIO/edgefleet/internal/controlplane/workloads"
)

// TierLabel marks a node as edge or cloud capacity for CLOUD_FIRST placement.
const TierLabel = "node-tier"

// rankInput is everything a strategy may look at. Candidates are already
// filtered and in registration order.
type rankInput struct {
	workload   workloads.Workload
	candidates []nodes.EdgeNode
	// deployments counts existing deployment records per node id.
	deployments map[string]int
}

// rankFunc returns the candidates in preference order. It must not drop or
// duplicate entries.
type rankFunc func(in rankInput) []nodes.EdgeNode

var strategies = map[workloads.Strategy]rankFunc{
	workloads.StrategyEdgeFirst:     rankEdgeFirst,
	workloads.StrategyCloudFirst:    rankCloudFirst,
	workloads.StrategyLoadBalance:   rankLoadBalance,
	workloads.StrategyLatencyAware:  rankLatencyAware,
	workloads.StrategyResourceAware: rankResourceAware,
}

// resolveStrategy returns the ranking for s. Unknown strategies use
// EDGE_FIRST and report fallback=true.
func resolveStrategy(s workloads.Strategy) (applied workloads.Strategy, fn rankFunc, fallback bool) {
	if fn, ok := strategies[s]; ok {
		return s, fn, false
	}
	return workloads.StrategyEdgeFirst, rankEdgeFirst, true
}

func rankEdgeFirst(in rankInput) []nodes.EdgeNode {
	return slices.Clone(in.candidates)
}

func rankCloudFirst(in rankInput) []nodes.EdgeNode {
	out := make([]nodes.EdgeNode, 0, len(in.candidates))
	var edge []nodes.EdgeNode
	for _, n := range in.candidates {
		if n.Labels[TierLabel] == "cloud" {
			out = append(out, n)
		} else {
			edge = append(edge, n)
		}
	}
	return append(out, edge...)
}

func rankLoadBalance(in rankInput) []nodes.EdgeNode {
	out := slices.Clone(in.candidates)
	slices.SortStableFunc(out, func(a, b nodes.EdgeNode) int {
		return cmp.Or(
			cmp.Compare(in.deployments[a.ID], in.deployments[b.ID]),
			cmp.Compare(a.Resources.Load(), b.Resources.Load()),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

func rankResourceAware(in rankInput) []nodes.EdgeNode {
	out := slices.Clone(in.candidates)
	slices.SortStableFunc(out, func(a, b nodes.EdgeNode) int {
		return cmp.Or(
			cmp.Compare(a.Resources.Load(), b.Resources.Load()),
			cmp.Compare(a.Resources.Storage.Percentage, b.Resources.Storage.Percentage),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

// rankLatencyAware orders by the summed weight of matching preferences,
// highest first. Ties keep registration order.
func rankLatencyAware(in rankInput) []nodes.EdgeNode {
	score := make(map[string]int64, len(in.candidates))
	for _, n := range in.candidates {
		for _, p := range in.workload.Placement.Preferences {
			if matches(p.Term, n) {
				score[n.ID] += int64(p.Weight)
			}
		}
	}
	out := slices.Clone(in.candidates)
	slices.SortStableFunc(out, func(a, b nodes.EdgeNode) int {
		return cmp.Compare(score[b.ID], score[a.ID])
	})
	return out
}
