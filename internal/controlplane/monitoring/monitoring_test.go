package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCounter struct{ total, active int }

func (s *staticCounter) Counts() (int, int) { return s.total, s.active }

func TestCollectRecordsSnapshotAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	nodes := &staticCounter{total: 3, active: 2}
	wls := &staticCounter{total: 5, active: 1}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(Options{Nodes: nodes, Workloads: wls, Registry: reg, Now: func() time.Time { return now }, Logger: zerolog.Nop()})

	s := c.Collect()
	assert.Equal(t, Snapshot{NodesTotal: 3, NodesOnline: 2, WorkloadsTotal: 5, WorkloadsRunning: 1, CollectedAt: now}, s)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.nodesOnline))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.workloadsTotal))

	nodes.active = 0
	assert.Equal(t, 2, c.Latest().NodesOnline, "latest is the last collection, not a live read")
	c.Collect()
	assert.Equal(t, 0, c.Latest().NodesOnline)

	count, err := testutil.GatherAndCount(reg, "edgefleet_nodes_total", "edgefleet_workloads_running")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLatestCollectsOnFirstRead(t *testing.T) {
	c := New(Options{Nodes: &staticCounter{total: 1, active: 1}, Workloads: &staticCounter{}, Logger: zerolog.Nop()})
	s := c.Latest()
	assert.Equal(t, 1, s.NodesTotal)
	assert.False(t, s.CollectedAt.IsZero())
}

func TestObserveCounters(t *testing.T) {
	c := New(Options{Nodes: &staticCounter{}, Workloads: &staticCounter{}, Logger: zerolog.Nop()})
	c.ObserveTick(2, 1, 0, 0)
	c.ObserveTick(1, 0, 1, 0)
	c.ObserveSweep(3)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.schedulingPasses.WithLabelValues("scheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.schedulingPasses.WithLabelValues("stale")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.nodesSwept))
}
