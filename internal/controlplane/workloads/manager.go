// Package workloads holds the workload table: desired state submitted by
// operators and the placements committed by the scheduler.
package workloads

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VerteraIO/edgefleet/internal/controlplane/stores"
	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

const defaultNamespace = "default"

// ErrStale is returned by Commit when the workload changed after the
// scheduling pass read it.
var ErrStale = errors.New("workload changed since scheduling started")

type Options struct {
	Now    func() time.Time
	Logger zerolog.Logger
}

type Manager struct {
	workloads *stores.Table[Workload]
	now       func() time.Time
	log       zerolog.Logger
}

func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		workloads: stores.New(cloneWorkload),
		now:       opts.Now,
		log:       opts.Logger.With().Str("component", "workloads").Logger(),
	}
}

func (req CreateRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return orcherr.Invalid("name", "is required")
	}
	if strings.TrimSpace(req.Image) == "" {
		return orcherr.Invalid("image", "is required")
	}
	if req.Type == "" {
		return orcherr.Invalid("type", "is required")
	}
	if !Type(strings.ToUpper(string(req.Type))).valid() {
		return orcherr.Invalid("type", "unknown workload type %q", req.Type)
	}
	if req.Replicas < 0 {
		return orcherr.Invalid("replicas", "must not be negative")
	}
	for i, c := range req.Placement.Constraints {
		if err := validateTerm(c); err != nil {
			return orcherr.Invalid("placement.constraints", "[%d]: %v", i, err)
		}
	}
	for i, p := range req.Placement.Preferences {
		if err := validateTerm(p.Term); err != nil {
			return orcherr.Invalid("placement.preferences", "[%d]: %v", i, err)
		}
	}
	return nil
}

func validateTerm(c Constraint) error {
	if strings.TrimSpace(c.Key) == "" {
		return errors.New("key is required")
	}
	if _, ok := normalizeOperator(c.Operator); !ok {
		return errors.New("unsupported operator " + c.Operator)
	}
	return nil
}

// Create stores a new PENDING workload. It is picked up by the next
// scheduling tick.
func (m *Manager) Create(req CreateRequest) (Workload, error) {
	if err := req.validate(); err != nil {
		return Workload{}, err
	}
	now := m.now().UTC()
	w := Workload{
		Name:        req.Name,
		Namespace:   req.Namespace,
		Type:        Type(strings.ToUpper(string(req.Type))),
		Image:       req.Image,
		Replicas:    req.Replicas,
		Resources:   req.Resources,
		Environment: req.Environment,
		Labels:      req.Labels,
		Placement:   req.Placement,
		Status:      StatusPending,
		Deployments: []Deployment{},
		Generation:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	w = cloneWorkload(w)
	if w.Namespace == "" {
		w.Namespace = defaultNamespace
	}
	if w.Replicas == 0 {
		w.Replicas = 1
	}
	if w.Environment == nil {
		w.Environment = map[string]string{}
	}
	if w.Labels == nil {
		w.Labels = map[string]string{}
	}
	// strategies match the way types do; unknown names still fall back at placement
	w.Placement.Strategy = Strategy(strings.ToUpper(strings.TrimSpace(string(w.Placement.Strategy))))
	if w.Placement.Strategy == "" {
		w.Placement.Strategy = StrategyEdgeFirst
	}
	for i := range w.Placement.Constraints {
		w.Placement.Constraints[i].Operator = OperatorIn
	}
	for i := range w.Placement.Preferences {
		w.Placement.Preferences[i].Term.Operator = OperatorIn
	}
	for {
		w.ID = uuid.NewString()
		w.Selector = map[string]string{"app": w.Name, "workload-id": w.ID}
		if m.workloads.Insert(w.ID, w) {
			break
		}
	}
	m.log.Info().Str("workload_id", w.ID).Str("name", w.Name).Str("type", string(w.Type)).
		Int32("replicas", w.Replicas).Str("strategy", string(w.Placement.Strategy)).Msg("workload created")
	return cloneWorkload(w), nil
}

func (m *Manager) Get(id string) (Workload, error) {
	w, ok := m.workloads.Get(id)
	if !ok {
		return Workload{}, orcherr.NotFound("workload", id)
	}
	return w, nil
}

// List returns a snapshot of every workload in creation order.
func (m *Manager) List() []Workload {
	return m.workloads.Snapshot()
}

// Delete marks the workload STOPPED, removes it and returns the stopped record.
func (m *Manager) Delete(id string) (Workload, error) {
	w, ok := m.workloads.Delete(id)
	if !ok {
		return Workload{}, orcherr.NotFound("workload", id)
	}
	w.Status = StatusStopped
	w.UpdatedAt = m.now().UTC()
	m.log.Info().Str("workload_id", id).Int("deployments", len(w.Deployments)).Msg("workload stopped and removed")
	return w, nil
}

// Scale sets the desired replica count and returns the workload to PENDING so
// the next tick re-places it. Any in-flight scheduling pass for the previous
// count is discarded at commit.
func (m *Manager) Scale(id string, replicas int32) (Workload, error) {
	if replicas < 1 {
		return Workload{}, orcherr.Invalid("replicas", "must be at least 1")
	}
	now := m.now().UTC()
	w, found, _ := m.workloads.Update(id, func(w *Workload) error {
		w.Replicas = replicas
		w.Status = StatusPending
		w.Generation++
		w.UpdatedAt = now
		return nil
	})
	if !found {
		return Workload{}, orcherr.NotFound("workload", id)
	}
	m.log.Info().Str("workload_id", id).Int32("replicas", replicas).Int64("generation", w.Generation).Msg("workload scaled")
	return w, nil
}

// Pending returns a snapshot of the workloads waiting for placement.
func (m *Manager) Pending() []Workload {
	var out []Workload
	for _, w := range m.workloads.Snapshot() {
		if w.Status == StatusPending {
			out = append(out, w)
		}
	}
	return out
}

// Commit records a placement on nodeIDs and moves the workload to RUNNING. It
// fails with ErrStale unless the workload is still PENDING at generation. The
// deployment list is replaced; nodes that already hosted the workload keep
// their original DeployedAt.
func (m *Manager) Commit(id string, generation int64, nodeIDs []string) (Workload, error) {
	now := m.now().UTC()
	w, found, err := m.workloads.Update(id, func(w *Workload) error {
		if w.Status != StatusPending || w.Generation != generation {
			return ErrStale
		}
		prev := make(map[string]time.Time, len(w.Deployments))
		for _, d := range w.Deployments {
			prev[d.NodeID] = d.DeployedAt
		}
		deps := make([]Deployment, 0, len(nodeIDs))
		for _, nodeID := range nodeIDs {
			deployedAt, ok := prev[nodeID]
			if !ok {
				deployedAt = now
			}
			deps = append(deps, Deployment{
				NodeID:     nodeID,
				Status:     StatusRunning,
				Replicas:   1,
				DeployedAt: deployedAt,
				UpdatedAt:  now,
			})
		}
		w.Deployments = deps
		w.Status = StatusRunning
		w.UpdatedAt = now
		return nil
	})
	if !found {
		return Workload{}, orcherr.NotFound("workload", id)
	}
	if err != nil {
		return Workload{}, err
	}
	return w, nil
}

// DeploymentsPerNode counts deployment records per node across all workloads
// except excludeID, whose records a new placement replaces anyway.
func (m *Manager) DeploymentsPerNode(excludeID string) map[string]int {
	out := make(map[string]int)
	for _, w := range m.workloads.Snapshot() {
		if w.ID == excludeID {
			continue
		}
		for _, d := range w.Deployments {
			out[d.NodeID]++
		}
	}
	return out
}

// Counts returns the total and RUNNING workload counts.
func (m *Manager) Counts() (total, running int) {
	running = m.workloads.Count(func(w Workload) bool { return w.Status == StatusRunning })
	return m.workloads.Len(), running
}

func (m *Manager) Metrics(id string) (Metrics, error) {
	w, err := m.Get(id)
	if err != nil {
		return Metrics{}, err
	}
	mt := Metrics{
		WorkloadID:       w.ID,
		Name:             w.Name,
		Status:           w.Status,
		DesiredReplicas:  w.Replicas,
		TotalDeployments: len(w.Deployments),
		LastUpdated:      w.UpdatedAt,
	}
	for _, d := range w.Deployments {
		if d.Status == StatusRunning {
			mt.RunningDeployments++
			mt.RunningReplicas += d.Replicas
		}
	}
	return mt, nil
}
