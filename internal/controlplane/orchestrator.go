// Package controlplane wires the node registry, workload table, scheduler,
// dispatch queue and monitoring into one orchestrator and runs its
// background loops.
//
// All state is held in memory and is lost when the process exits.
package controlplane

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/VerteraIO/edgefleet/internal/controlplane/dispatch"
	"github.com/VerteraIO/edgefleet/internal/controlplane/monitoring"
	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
	"github.com/VerteraIO/edgefleet/internal/controlplane/reconciler"
	"github.com/VerteraIO/edgefleet/internal/controlplane/scheduler"
	"github.com/VerteraIO/edgefleet/internal/controlplane/workloads"
)

type Options struct {
	StalenessThreshold time.Duration
	InitialStatus      nodes.Status
	SweepPeriod        time.Duration
	TickPeriod         time.Duration
	CollectPeriod      time.Duration
	Registry           prometheus.Registerer
	Now                func() time.Time
	Logger             zerolog.Logger
}

type Orchestrator struct {
	Nodes     *nodes.Registry
	Workloads *workloads.Manager
	Dispatch  *dispatch.Manager
	Scheduler *scheduler.Scheduler
	Monitor   *monitoring.Collector

	opts Options
	log  zerolog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	o := &Orchestrator{
		Nodes: nodes.NewRegistry(nodes.Options{
			StalenessThreshold: opts.StalenessThreshold,
			InitialStatus:      opts.InitialStatus,
			Now:                opts.Now,
			Logger:             opts.Logger,
		}),
		Workloads: workloads.NewManager(workloads.Options{Now: opts.Now, Logger: opts.Logger}),
		Dispatch:  dispatch.NewManager(),
		opts:      opts,
		log:       opts.Logger.With().Str("component", "orchestrator").Logger(),
	}
	o.Scheduler = scheduler.New(scheduler.Options{
		Nodes:      o.Nodes,
		Workloads:  o.Workloads,
		Dispatcher: o.Dispatch,
		Now:        opts.Now,
		Logger:     opts.Logger,
	})
	o.Monitor = monitoring.New(monitoring.Options{
		Nodes:     o.Nodes,
		Workloads: o.Workloads,
		Registry:  opts.Registry,
		Now:       opts.Now,
		Logger:    opts.Logger,
	})
	return o
}

// Heartbeat records a node heartbeat and hands back the assignments queued
// for it since its previous heartbeat.
func (o *Orchestrator) Heartbeat(id string, req nodes.HeartbeatRequest) (nodes.EdgeNode, []dispatch.Assignment, error) {
	n, err := o.Nodes.Heartbeat(id, req)
	if err != nil {
		return nodes.EdgeNode{}, nil, err
	}
	queued := o.Dispatch.DrainPending(id)
	// a tick may have queued work just before the workload was deleted
	live := queued[:0]
	for _, a := range queued {
		if _, err := o.Workloads.Get(a.WorkloadID); err == nil {
			live = append(live, a)
		}
	}
	if len(live) == 0 {
		return n, nil, nil
	}
	return n, live, nil
}

// DeleteWorkload stops and removes a workload and withdraws the assignments
// still queued for it.
func (o *Orchestrator) DeleteWorkload(id string) (workloads.Workload, error) {
	w, err := o.Workloads.Delete(id)
	if err != nil {
		return w, err
	}
	if n := o.Dispatch.ForgetWorkload(id); n > 0 {
		o.log.Info().Str("workload_id", id).Int("assignments", n).Msg("withdrew queued assignments")
	}
	return w, nil
}

// UnregisterNode removes the node and anything still queued for it. Existing
// deployment records that reference it are left for the next pass.
func (o *Orchestrator) UnregisterNode(id string) error {
	if err := o.Nodes.Unregister(id); err != nil {
		return err
	}
	o.Dispatch.Forget(id)
	return nil
}

// SweepNodes runs one health sweep.
func (o *Orchestrator) SweepNodes() []string {
	flipped := o.Nodes.Sweep(o.opts.Now())
	o.Monitor.ObserveSweep(len(flipped))
	return flipped
}

// Tick runs one scheduling tick.
func (o *Orchestrator) Tick(ctx context.Context) scheduler.TickResult {
	res := o.Scheduler.Tick(ctx)
	o.Monitor.ObserveTick(res.Scheduled, res.Unplaced, res.Stale, res.Failed)
	return res
}

// Run blocks running the health sweep, scheduling tick and monitoring
// collection until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Warn().Msg("control plane state is held in memory only and is lost on restart")
	r := reconciler.New(o.opts.Logger,
		reconciler.Task{Name: "health-sweep", Period: o.opts.SweepPeriod, Run: func(context.Context) { o.SweepNodes() }},
		reconciler.Task{Name: "scheduling-tick", Period: o.opts.TickPeriod, Run: func(ctx context.Context) { o.Tick(ctx) }},
		reconciler.Task{Name: "monitoring", Period: o.opts.CollectPeriod, Run: func(context.Context) { o.Monitor.Collect() }},
	)
	return r.Run(ctx)
}
