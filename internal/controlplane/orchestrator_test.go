package controlplane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
	"github.com/VerteraIO/edgefleet/internal/controlplane/workloads"
	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestOrchestrator(clock *fakeClock) *Orchestrator {
	return New(Options{
		StalenessThreshold: 2 * time.Minute,
		SweepPeriod:        5 * time.Millisecond,
		TickPeriod:         5 * time.Millisecond,
		CollectPeriod:      5 * time.Millisecond,
		Now:                clock.Now,
		Logger:             zerolog.Nop(),
	})
}

func TestHeartbeatDeliversAssignments(t *testing.T) {
	o := newTestOrchestrator(&fakeClock{t: time.Now()})
	n, err := o.Nodes.Register(nodes.RegisterRequest{Name: "edge", Address: "10.0.0.1"})
	require.NoError(t, err)
	w, err := o.Workloads.Create(workloads.CreateRequest{Name: "web", Type: workloads.TypeDeployment, Image: "nginx"})
	require.NoError(t, err)

	res := o.Tick(context.Background())
	assert.Equal(t, 1, res.Scheduled)

	_, assigned, err := o.Heartbeat(n.ID, nodes.HeartbeatRequest{})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, w.ID, assigned[0].WorkloadID)

	_, assigned, err = o.Heartbeat(n.ID, nodes.HeartbeatRequest{})
	require.NoError(t, err)
	assert.Empty(t, assigned)
}

func TestUnregisterNodeDropsQueue(t *testing.T) {
	o := newTestOrchestrator(&fakeClock{t: time.Now()})
	n, _ := o.Nodes.Register(nodes.RegisterRequest{Name: "edge", Address: "10.0.0.1"})
	_, _ = o.Workloads.Create(workloads.CreateRequest{Name: "web", Type: workloads.TypeDeployment, Image: "nginx"})
	o.Tick(context.Background())
	require.Equal(t, 1, o.Dispatch.Len())

	require.NoError(t, o.UnregisterNode(n.ID))
	assert.Equal(t, 0, o.Dispatch.Len())
	assert.True(t, errors.Is(o.UnregisterNode(n.ID), orcherr.ErrNotFound))
}

func TestDeleteWorkloadWithdrawsAssignments(t *testing.T) {
	o := newTestOrchestrator(&fakeClock{t: time.Now()})
	n, _ := o.Nodes.Register(nodes.RegisterRequest{Name: "edge", Address: "10.0.0.1"})
	web, _ := o.Workloads.Create(workloads.CreateRequest{Name: "web", Type: workloads.TypeDeployment, Image: "nginx"})
	db, _ := o.Workloads.Create(workloads.CreateRequest{Name: "db", Type: workloads.TypeStatefulSet, Image: "postgres"})
	require.Equal(t, 2, o.Tick(context.Background()).Scheduled)

	stopped, err := o.DeleteWorkload(web.ID)
	require.NoError(t, err)
	assert.Equal(t, workloads.StatusStopped, stopped.Status)
	assert.Equal(t, 1, o.Dispatch.Len())

	_, assigned, err := o.Heartbeat(n.ID, nodes.HeartbeatRequest{})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, db.ID, assigned[0].WorkloadID)

	_, err = o.DeleteWorkload(web.ID)
	assert.True(t, errors.Is(err, orcherr.ErrNotFound))
}

func TestHeartbeatSkipsAssignmentsOfRemovedWorkloads(t *testing.T) {
	o := newTestOrchestrator(&fakeClock{t: time.Now()})
	n, _ := o.Nodes.Register(nodes.RegisterRequest{Name: "edge", Address: "10.0.0.1"})
	w, _ := o.Workloads.Create(workloads.CreateRequest{Name: "web", Type: workloads.TypeDeployment, Image: "nginx"})
	o.Tick(context.Background())

	// removed behind the queue's back, as when a tick dispatches right
	// after the delete went through
	_, err := o.Workloads.Delete(w.ID)
	require.NoError(t, err)

	_, assigned, err := o.Heartbeat(n.ID, nodes.HeartbeatRequest{})
	require.NoError(t, err)
	assert.Empty(t, assigned)
}

func TestConcurrentOperations(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	o := newTestOrchestrator(clock)

	var ids []string
	for i := range 4 {
		n, err := o.Nodes.Register(nodes.RegisterRequest{Name: fmt.Sprintf("edge-%d", i), Address: "10.0.0.1"})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	var wls []string
	for i := range 6 {
		w, err := o.Workloads.Create(workloads.CreateRequest{
			Name: fmt.Sprintf("wl-%d", i), Type: workloads.TypeDeployment, Image: "nginx", Replicas: 2,
			Placement: workloads.PlacementPolicy{Strategy: workloads.StrategyLoadBalance},
		})
		require.NoError(t, err)
		wls = append(wls, w.ID)
	}

	const rounds = 200
	ctx := context.Background()
	var wg sync.WaitGroup
	run := func(f func(i int)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rounds {
				f(i)
			}
		}()
	}
	for _, id := range ids[1:] {
		run(func(int) {
			_, _, _ = o.Heartbeat(id, nodes.HeartbeatRequest{Resources: nodes.Resources{CPU: nodes.Usage{Percentage: 30}}})
		})
	}
	run(func(int) {
		clock.Advance(time.Second)
		o.SweepNodes()
	})
	run(func(int) { o.Tick(ctx) })
	run(func(int) { _, _ = o.Scheduler.ScheduleWorkload(ctx, wls[0]) })
	run(func(i int) { _, _ = o.Workloads.Scale(wls[i%len(wls)], int32(1+i%3)) })
	run(func(int) { _ = o.Workloads.List(); _ = o.Nodes.List(); o.Monitor.Collect() })
	// one node slot churns: unregistered and registered again
	churn := ids[0]
	run(func(i int) {
		if i%2 == 0 {
			_ = o.UnregisterNode(churn)
			return
		}
		if n, err := o.Nodes.Register(nodes.RegisterRequest{Name: "churn", Address: "10.0.0.9"}); err == nil {
			churn = n.ID
		}
	})
	// a workload is created and deleted over and over
	run(func(int) {
		w, err := o.Workloads.Create(workloads.CreateRequest{Name: "tmp", Type: workloads.TypeJob, Image: "busybox"})
		if err == nil {
			_, _ = o.DeleteWorkload(w.ID)
		}
	})
	wg.Wait()

	// bring every surviving node back online and re-place everything
	require.Len(t, o.Nodes.List(), len(ids))
	var online []string
	for _, n := range o.Nodes.List() {
		_, _, err := o.Heartbeat(n.ID, nodes.HeartbeatRequest{})
		require.NoError(t, err)
		online = append(online, n.ID)
	}
	for _, id := range wls {
		_, err := o.Workloads.Scale(id, 2)
		require.NoError(t, err)
	}
	res := o.Tick(ctx)
	assert.Equal(t, len(wls), res.Scheduled)
	assert.Zero(t, res.Stale+res.Failed)

	for _, id := range wls {
		w, err := o.Workloads.Get(id)
		require.NoError(t, err)
		assert.Equal(t, workloads.StatusRunning, w.Status)
		require.Len(t, w.Deployments, min(2, len(online)))
		for _, d := range w.Deployments {
			assert.Contains(t, online, d.NodeID)
		}
	}
	total, _ := o.Workloads.Counts()
	assert.Equal(t, len(wls), total, "temporary workloads were all deleted")
}

func TestRunSweepsAndSchedulesInBackground(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	o := newTestOrchestrator(clock)
	stale, _ := o.Nodes.Register(nodes.RegisterRequest{Name: "stale", Address: "10.0.0.1"})
	w, _ := o.Workloads.Create(workloads.CreateRequest{Name: "web", Type: workloads.TypeJob, Image: "busybox"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, _ := o.Workloads.Get(w.ID)
		return got.Status == workloads.StatusRunning
	}, time.Second, 5*time.Millisecond)

	clock.Advance(3 * time.Minute)
	require.Eventually(t, func() bool {
		got, _ := o.Nodes.Get(stale.ID)
		return got.Status == nodes.StatusOffline
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return o.Monitor.Latest().NodesOnline == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, o.Monitor.Latest().WorkloadsRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
