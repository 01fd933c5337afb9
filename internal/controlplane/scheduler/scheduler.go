// Package scheduler places PENDING workloads onto eligible edge nodes.
//
// A pass reads a snapshot of the node table, filters it by the workload's
// constraints, ranks the survivors with the workload's strategy and commits
// the chosen nodes under the workload table's lock. The node table is never
// locked while placement is computed, so a node that goes OFFLINE or is
// unregistered after the snapshot may still receive a deployment record. The
// next sweep and tick reconcile that.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/VerteraIO/edgefleet/internal/controlplane/dispatch"
	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
	"github.com/VerteraIO/edgefleet/internal/controlplane/workloads"
	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

type NodeLister interface {
	List() []nodes.EdgeNode
}

type WorkloadStore interface {
	Get(id string) (workloads.Workload, error)
	Pending() []workloads.Workload
	Commit(id string, generation int64, nodeIDs []string) (workloads.Workload, error)
	DeploymentsPerNode(excludeID string) map[string]int
}

type Dispatcher interface {
	AddPending(nodeID string, a dispatch.Assignment)
}

// Decision describes one placement pass.
type Decision struct {
	WorkloadID string             `json:"workload_id"`
	Generation int64              `json:"generation"`
	Requested  workloads.Strategy `json:"requested_strategy"`
	Applied    workloads.Strategy `json:"applied_strategy"`
	// Fallback is set when Requested is not a known strategy and Applied is
	// the EDGE_FIRST default.
	Fallback   bool     `json:"fallback"`
	Candidates int      `json:"candidates"`
	NodeIDs    []string `json:"node_ids"`
}

// TickResult summarises one scheduling tick.
type TickResult struct {
	Scheduled int
	Unplaced  int
	Stale     int
	Failed    int
}

type Options struct {
	Nodes      NodeLister
	Workloads  WorkloadStore
	Dispatcher Dispatcher
	Now        func() time.Time
	Logger     zerolog.Logger
}

type Scheduler struct {
	nodes     NodeLister
	workloads WorkloadStore
	dispatch  Dispatcher
	now       func() time.Time
	log       zerolog.Logger

	// beforeCommit runs between placement and commit. Tests use it to
	// interleave concurrent changes.
	beforeCommit func(Decision)
}

func New(opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		nodes:     opts.Nodes,
		workloads: opts.Workloads,
		dispatch:  opts.Dispatcher,
		now:       opts.Now,
		log:       opts.Logger.With().Str("component", "scheduler").Logger(),
	}
}

// Tick schedules every PENDING workload. A failure for one workload never
// stops the others; ctx is checked between workloads.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	var res TickResult
	for _, w := range s.workloads.Pending() {
		if ctx.Err() != nil {
			break
		}
		_, err := s.schedule(ctx, w)
		switch {
		case err == nil:
			res.Scheduled++
		case errors.Is(err, orcherr.ErrNoEligibleTarget):
			res.Unplaced++
			s.log.Warn().Str("workload_id", w.ID).Str("name", w.Name).Msg("no eligible nodes, workload stays pending")
		case errors.Is(err, workloads.ErrStale), errors.Is(err, orcherr.ErrNotFound):
			res.Stale++
			s.log.Info().Str("workload_id", w.ID).Err(err).Msg("placement discarded")
		default:
			res.Failed++
			s.log.Error().Str("workload_id", w.ID).Err(err).Msg("scheduling failed")
		}
	}
	if res != (TickResult{}) {
		s.log.Debug().Int("scheduled", res.Scheduled).Int("unplaced", res.Unplaced).
			Int("stale", res.Stale).Int("failed", res.Failed).Msg("scheduling tick")
	}
	return res
}

// ScheduleWorkload runs a placement pass for one PENDING workload right away.
func (s *Scheduler) ScheduleWorkload(ctx context.Context, id string) (Decision, error) {
	w, err := s.workloads.Get(id)
	if err != nil {
		return Decision{}, err
	}
	if w.Status != workloads.StatusPending {
		return Decision{}, orcherr.Invalid("status", "workload is %s, only PENDING workloads are scheduled", w.Status)
	}
	return s.schedule(ctx, w)
}

func (s *Scheduler) schedule(ctx context.Context, w workloads.Workload) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	candidates := s.filterNodes(w, s.nodes.List())

	applied, rank, fallback := resolveStrategy(w.Placement.Strategy)
	d := Decision{
		WorkloadID: w.ID,
		Generation: w.Generation,
		Requested:  w.Placement.Strategy,
		Applied:    applied,
		Fallback:   fallback,
		Candidates: len(candidates),
	}
	if fallback {
		s.log.Warn().Str("workload_id", w.ID).Str("strategy", string(w.Placement.Strategy)).
			Msg("unknown placement strategy, falling back to EDGE_FIRST")
	}
	if len(candidates) == 0 {
		return d, fmt.Errorf("workload %q: %w", w.ID, orcherr.ErrNoEligibleTarget)
	}

	in := rankInput{workload: w, candidates: candidates}
	if applied == workloads.StrategyLoadBalance {
		in.deployments = s.workloads.DeploymentsPerNode(w.ID)
	}
	ranked := rank(in)
	n := min(int(w.Replicas), len(ranked))
	d.NodeIDs = make([]string, 0, n)
	for _, node := range ranked[:n] {
		d.NodeIDs = append(d.NodeIDs, node.ID)
	}

	if s.beforeCommit != nil {
		s.beforeCommit(d)
	}
	committed, err := s.workloads.Commit(w.ID, w.Generation, d.NodeIDs)
	if err != nil {
		return d, fmt.Errorf("commit workload %q: %w", w.ID, err)
	}

	now := s.now().UTC()
	for _, nodeID := range d.NodeIDs {
		s.dispatch.AddPending(nodeID, dispatch.Assignment{
			WorkloadID:  committed.ID,
			Name:        committed.Name,
			Namespace:   committed.Namespace,
			Image:       committed.Image,
			Environment: committed.Environment,
			Replicas:    1,
			Generation:  committed.Generation,
			QueuedAt:    now,
		})
	}
	s.log.Info().Str("workload_id", w.ID).Str("strategy", string(applied)).Strs("nodes", d.NodeIDs).
		Int("candidates", len(candidates)).Msg("workload scheduled")
	return d, nil
}
