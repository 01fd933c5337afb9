package workloads

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewManager(Options{Now: clock.Now, Logger: zerolog.Nop()}), clock
}

func TestCreateFillsDefaults(t *testing.T) {
	m, _ := newTestManager()
	w, err := m.Create(CreateRequest{Name: "web", Type: "deployment", Image: "nginx:1.27"})
	require.NoError(t, err)

	assert.NotEmpty(t, w.ID)
	assert.Equal(t, "default", w.Namespace)
	assert.Equal(t, TypeDeployment, w.Type)
	assert.Equal(t, int32(1), w.Replicas)
	assert.Equal(t, StatusPending, w.Status)
	assert.Equal(t, StrategyEdgeFirst, w.Placement.Strategy)
	assert.Equal(t, map[string]string{"app": "web", "workload-id": w.ID}, w.Selector)
	assert.NotNil(t, w.Environment)
	assert.Empty(t, w.Deployments)
}

func TestCreateValidation(t *testing.T) {
	m, _ := newTestManager()
	cases := map[string]CreateRequest{
		"missing name":  {Type: TypeJob, Image: "busybox"},
		"missing image": {Name: "x", Type: TypeJob},
		"unknown type":  {Name: "x", Type: "POD", Image: "busybox"},
		"negative":      {Name: "x", Type: TypeJob, Image: "busybox", Replicas: -1},
		"bad operator": {Name: "x", Type: TypeJob, Image: "busybox", Placement: PlacementPolicy{
			Constraints: []Constraint{{Key: "region", Operator: "NotIn", Values: []string{"eu"}}},
		}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.Create(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, orcherr.ErrValidation))
		})
	}
	assert.Empty(t, m.List())
}

func TestCreateNormalizesOperator(t *testing.T) {
	m, _ := newTestManager()
	w, err := m.Create(CreateRequest{Name: "x", Type: TypeJob, Image: "busybox", Placement: PlacementPolicy{
		Constraints: []Constraint{{Key: "region", Operator: "in", Values: []string{"eu"}}, {Key: "zone", Values: []string{"a"}}},
	}})
	require.NoError(t, err)
	for _, c := range w.Placement.Constraints {
		assert.Equal(t, OperatorIn, c.Operator)
	}
}

func TestScaleBumpsGenerationAndReturnsToPending(t *testing.T) {
	m, _ := newTestManager()
	w, _ := m.Create(CreateRequest{Name: "web", Type: TypeDeployment, Image: "nginx"})
	_, err := m.Commit(w.ID, w.Generation, []string{"n1"})
	require.NoError(t, err)

	scaled, err := m.Scale(w.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), scaled.Replicas)
	assert.Equal(t, StatusPending, scaled.Status)
	assert.Equal(t, w.Generation+1, scaled.Generation)

	_, err = m.Scale(w.ID, 0)
	assert.True(t, errors.Is(err, orcherr.ErrValidation))
	_, err = m.Scale("nope", 2)
	assert.True(t, errors.Is(err, orcherr.ErrNotFound))
}

func TestCommitRejectsStaleGeneration(t *testing.T) {
	m, _ := newTestManager()
	w, _ := m.Create(CreateRequest{Name: "web", Type: TypeDeployment, Image: "nginx"})
	_, err := m.Scale(w.ID, 2)
	require.NoError(t, err)

	_, err = m.Commit(w.ID, w.Generation, []string{"n1"})
	assert.ErrorIs(t, err, ErrStale)
	got, _ := m.Get(w.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.Deployments)

	_, err = m.Commit("gone", 1, []string{"n1"})
	assert.True(t, errors.Is(err, orcherr.ErrNotFound))
}

func TestCommitPreservesDeployedAt(t *testing.T) {
	m, clock := newTestManager()
	w, _ := m.Create(CreateRequest{Name: "web", Type: TypeDeployment, Image: "nginx"})
	first, err := m.Commit(w.ID, w.Generation, []string{"n1"})
	require.NoError(t, err)
	firstAt := first.Deployments[0].DeployedAt

	clock.Advance(time.Minute)
	scaled, _ := m.Scale(w.ID, 2)
	second, err := m.Commit(w.ID, scaled.Generation, []string{"n1", "n2"})
	require.NoError(t, err)
	require.Len(t, second.Deployments, 2)
	assert.Equal(t, firstAt, second.Deployments[0].DeployedAt)
	assert.Equal(t, clock.Now(), second.Deployments[1].DeployedAt)
	assert.Equal(t, StatusRunning, second.Status)
	assert.Equal(t, map[string]int{"n1": 1, "n2": 1}, m.DeploymentsPerNode(""))
	assert.Empty(t, m.DeploymentsPerNode(w.ID), "own records are excluded")
}

func TestCreateNormalizesStrategy(t *testing.T) {
	m, _ := newTestManager()
	w, err := m.Create(CreateRequest{Name: "web", Type: TypeDeployment, Image: "nginx",
		Placement: PlacementPolicy{Strategy: " load_balance "}})
	require.NoError(t, err)
	assert.Equal(t, StrategyLoadBalance, w.Placement.Strategy)

	w, err = m.Create(CreateRequest{Name: "web", Type: TypeDeployment, Image: "nginx",
		Placement: PlacementPolicy{Strategy: "nearest"}})
	require.NoError(t, err)
	assert.Equal(t, Strategy("NEAREST"), w.Placement.Strategy, "unknown names are kept for the scheduler to flag")
}

func TestDeleteReturnsStoppedRecord(t *testing.T) {
	m, _ := newTestManager()
	w, _ := m.Create(CreateRequest{Name: "web", Type: TypeDeployment, Image: "nginx"})

	stopped, err := m.Delete(w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stopped.Status)
	_, err = m.Get(w.ID)
	assert.True(t, errors.Is(err, orcherr.ErrNotFound))
	_, err = m.Delete(w.ID)
	assert.True(t, errors.Is(err, orcherr.ErrNotFound))
}

func TestCountsAndMetrics(t *testing.T) {
	m, _ := newTestManager()
	a, _ := m.Create(CreateRequest{Name: "a", Type: TypeDeployment, Image: "nginx", Replicas: 2})
	_, _ = m.Create(CreateRequest{Name: "b", Type: TypeJob, Image: "busybox"})
	_, err := m.Commit(a.ID, a.Generation, []string{"n1", "n2"})
	require.NoError(t, err)

	total, running := m.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, running)
	assert.Len(t, m.Pending(), 1)

	mt, err := m.Metrics(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), mt.DesiredReplicas)
	assert.Equal(t, int32(2), mt.RunningReplicas)
	assert.Equal(t, 2, mt.RunningDeployments)
	assert.Equal(t, 2, mt.TotalDeployments)
}

func TestGetReturnsCopy(t *testing.T) {
	m, _ := newTestManager()
	w, _ := m.Create(CreateRequest{Name: "a", Type: TypeDeployment, Image: "nginx", Labels: map[string]string{"k": "v"}})
	w.Labels["k"] = "changed"
	got, _ := m.Get(w.ID)
	assert.Equal(t, "v", got.Labels["k"])
}
