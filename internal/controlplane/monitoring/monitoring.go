// Package monitoring keeps the latest aggregate counters of the control plane
// and mirrors them into Prometheus.
package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const namespace = "edgefleet"

// Counter is anything that can report a total and an "active" count.
type Counter interface {
	Counts() (total, active int)
}

// Snapshot is one collection of the aggregate counters.
type Snapshot struct {
	NodesTotal       int       `json:"nodes_total"`
	NodesOnline      int       `json:"nodes_online"`
	WorkloadsTotal   int       `json:"workloads_total"`
	WorkloadsRunning int       `json:"workloads_running"`
	CollectedAt      time.Time `json:"collected_at"`
}

type Options struct {
	Nodes     Counter
	Workloads Counter
	// Registry receives the gauges. Nil means a private registry.
	Registry prometheus.Registerer
	Now      func() time.Time
	Logger   zerolog.Logger
}

type Collector struct {
	nodes     Counter
	workloads Counter
	now       func() time.Time
	log       zerolog.Logger

	mu   sync.RWMutex
	last Snapshot

	nodesTotal       prometheus.Gauge
	nodesOnline      prometheus.Gauge
	workloadsTotal   prometheus.Gauge
	workloadsRunning prometheus.Gauge
	schedulingPasses *prometheus.CounterVec
	nodesSwept       prometheus.Counter
}

func New(opts Options) *Collector {
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	f := promauto.With(opts.Registry)
	return &Collector{
		nodes:     opts.Nodes,
		workloads: opts.Workloads,
		now:       opts.Now,
		log:       opts.Logger.With().Str("component", "monitoring").Logger(),
		nodesTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "nodes_total", Help: "Registered edge nodes.",
		}),
		nodesOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "nodes_online", Help: "Edge nodes currently ONLINE.",
		}),
		workloadsTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workloads_total", Help: "Workloads in the live set.",
		}),
		workloadsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workloads_running", Help: "Workloads currently RUNNING.",
		}),
		schedulingPasses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduling_passes_total", Help: "Scheduling passes by outcome.",
		}, []string{"result"}),
		nodesSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "nodes_swept_offline_total", Help: "Nodes marked OFFLINE by the health sweep.",
		}),
	}
}

// Collect reads the current counters, records them as the latest snapshot and
// updates the gauges.
func (c *Collector) Collect() Snapshot {
	s := Snapshot{CollectedAt: c.now().UTC()}
	s.NodesTotal, s.NodesOnline = c.nodes.Counts()
	s.WorkloadsTotal, s.WorkloadsRunning = c.workloads.Counts()

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()

	c.nodesTotal.Set(float64(s.NodesTotal))
	c.nodesOnline.Set(float64(s.NodesOnline))
	c.workloadsTotal.Set(float64(s.WorkloadsTotal))
	c.workloadsRunning.Set(float64(s.WorkloadsRunning))
	c.log.Debug().Int("nodes", s.NodesTotal).Int("online", s.NodesOnline).
		Int("workloads", s.WorkloadsTotal).Int("running", s.WorkloadsRunning).Msg("metrics collected")
	return s
}

// Latest returns the last collected snapshot, collecting one first if none
// exists yet.
func (c *Collector) Latest() Snapshot {
	c.mu.RLock()
	s := c.last
	c.mu.RUnlock()
	if s.CollectedAt.IsZero() {
		return c.Collect()
	}
	return s
}

// ObserveTick adds one scheduling tick's outcomes to the pass counters.
func (c *Collector) ObserveTick(scheduled, unplaced, stale, failed int) {
	c.schedulingPasses.WithLabelValues("scheduled").Add(float64(scheduled))
	c.schedulingPasses.WithLabelValues("unplaced").Add(float64(unplaced))
	c.schedulingPasses.WithLabelValues("stale").Add(float64(stale))
	c.schedulingPasses.WithLabelValues("failed").Add(float64(failed))
}

// ObserveSweep counts nodes flipped to OFFLINE by one sweep.
func (c *Collector) ObserveSweep(flipped int) {
	c.nodesSwept.Add(float64(flipped))
}
