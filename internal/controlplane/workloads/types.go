package workloads

import (
	"strings"
	"time"
)

type Type string

const (
	TypeDeployment  Type = "DEPLOYMENT"
	TypeDaemonSet   Type = "DAEMONSET"
	TypeStatefulSet Type = "STATEFULSET"
	TypeJob         Type = "JOB"
	TypeCronJob     Type = "CRONJOB"
)

func (t Type) valid() bool {
	switch t {
	case TypeDeployment, TypeDaemonSet, TypeStatefulSet, TypeJob, TypeCronJob:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
)

type Strategy string

const (
	StrategyEdgeFirst     Strategy = "EDGE_FIRST"
	StrategyCloudFirst    Strategy = "CLOUD_FIRST"
	StrategyLoadBalance   Strategy = "LOAD_BALANCE"
	StrategyLatencyAware  Strategy = "LATENCY_AWARE"
	StrategyResourceAware Strategy = "RESOURCE_AWARE"
)

// OperatorIn is the only constraint operator: the node's value must be one of Values.
const OperatorIn = "In"

type ResourceList struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

type Resources struct {
	Requests ResourceList `json:"requests"`
	Limits   ResourceList `json:"limits"`
}

type Constraint struct {
	Key      string   `json:"key"`
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}

type Preference struct {
	Weight int32      `json:"weight"`
	Term   Constraint `json:"term"`
}

type PlacementPolicy struct {
	Strategy    Strategy     `json:"strategy"`
	Constraints []Constraint `json:"constraints"`
	Preferences []Preference `json:"preferences"`
}

// Deployment records one node hosting replicas of a workload.
type Deployment struct {
	NodeID     string    `json:"node_id"`
	Status     Status    `json:"status"`
	Replicas   int32     `json:"replicas"`
	DeployedAt time.Time `json:"deployed_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Workload struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	Type        Type              `json:"type"`
	Image       string            `json:"image"`
	Replicas    int32             `json:"replicas"`
	Resources   Resources         `json:"resources"`
	Environment map[string]string `json:"environment"`
	Labels      map[string]string `json:"labels"`
	Selector    map[string]string `json:"selector"`
	Placement   PlacementPolicy   `json:"placement"`
	Status      Status            `json:"status"`
	Deployments []Deployment      `json:"deployments"`
	// Generation increases whenever the desired replica count changes. A
	// scheduling pass only commits if the generation it started from is current.
	Generation int64     `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneConstraint(c Constraint) Constraint {
	c.Values = append([]string(nil), c.Values...)
	return c
}

func cloneWorkload(w Workload) Workload {
	w.Environment = cloneMap(w.Environment)
	w.Labels = cloneMap(w.Labels)
	w.Selector = cloneMap(w.Selector)
	cs := make([]Constraint, len(w.Placement.Constraints))
	for i, c := range w.Placement.Constraints {
		cs[i] = cloneConstraint(c)
	}
	w.Placement.Constraints = cs
	ps := make([]Preference, len(w.Placement.Preferences))
	for i, p := range w.Placement.Preferences {
		p.Term = cloneConstraint(p.Term)
		ps[i] = p
	}
	w.Placement.Preferences = ps
	w.Deployments = append([]Deployment{}, w.Deployments...)
	return w
}

type CreateRequest struct {
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	Type        Type              `json:"type"`
	Image       string            `json:"image"`
	Replicas    int32             `json:"replicas"`
	Resources   Resources         `json:"resources"`
	Environment map[string]string `json:"environment"`
	Labels      map[string]string `json:"labels"`
	Placement   PlacementPolicy   `json:"placement"`
}

// Metrics is the per-workload view served to monitoring callers.
type Metrics struct {
	WorkloadID         string    `json:"workload_id"`
	Name               string    `json:"name"`
	Status             Status    `json:"status"`
	DesiredReplicas    int32     `json:"desired_replicas"`
	RunningReplicas    int32     `json:"running_replicas"`
	RunningDeployments int       `json:"running_deployments"`
	TotalDeployments   int       `json:"total_deployments"`
	LastUpdated        time.Time `json:"last_updated"`
}

func normalizeOperator(op string) (string, bool) {
	if op == "" || strings.EqualFold(op, OperatorIn) {
		return OperatorIn, true
	}
	return op, false
}
