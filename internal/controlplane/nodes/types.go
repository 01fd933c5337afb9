package nodes

import (
	"fmt"
	"strings"
	"time"

	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

type Status string

const (
	StatusRegistered  Status = "REGISTERED"
	StatusOnline      Status = "ONLINE"
	StatusOffline     Status = "OFFLINE"
	StatusDegraded    Status = "DEGRADED"
	StatusMaintenance Status = "MAINTENANCE"
)

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusRegistered, StatusOnline, StatusOffline, StatusDegraded, StatusMaintenance:
		return st, nil
	}
	return "", orcherr.Invalid("status", "unknown node status %q", s)
}

// Sweepable reports whether the health sweep may flip this status to OFFLINE.
// DEGRADED and MAINTENANCE are operator/agent decisions and are left alone.
func (s Status) Sweepable() bool {
	return s == StatusOnline || s == StatusRegistered
}

// Usage is one resource dimension as reported by the node agent.
type Usage struct {
	Capacity   string  `json:"capacity"`
	Usage      string  `json:"usage"`
	Percentage float64 `json:"percentage"`
}

type Resources struct {
	CPU              Usage  `json:"cpu"`
	Memory           Usage  `json:"memory"`
	Storage          Usage  `json:"storage"`
	NetworkBandwidth string `json:"network_bandwidth"`
	GPUs             int    `json:"gpus"`
}

// Load is the mean of CPU and memory utilisation, used to rank placement targets.
func (r Resources) Load() float64 {
	return (r.CPU.Percentage + r.Memory.Percentage) / 2
}

type EdgeNode struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Address           string            `json:"address"`
	Status            Status            `json:"status"`
	LastHeartbeat     time.Time         `json:"last_heartbeat"`
	Resources         Resources         `json:"resources"`
	Labels            map[string]string `json:"labels"`
	Capabilities      []string          `json:"capabilities"`
	Region            string            `json:"region"`
	Zone              string            `json:"zone"`
	KubernetesVersion string            `json:"kubernetes_version"`
	ContainerRuntime  string            `json:"container_runtime"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func cloneNode(n EdgeNode) EdgeNode {
	labels := make(map[string]string, len(n.Labels))
	for k, v := range n.Labels {
		labels[k] = v
	}
	n.Labels = labels
	n.Capabilities = append([]string(nil), n.Capabilities...)
	return n
}

type RegisterRequest struct {
	Name              string            `json:"name"`
	Address           string            `json:"address"`
	Labels            map[string]string `json:"labels"`
	Capabilities      []string          `json:"capabilities"`
	Region            string            `json:"region"`
	Zone              string            `json:"zone"`
	KubernetesVersion string            `json:"kubernetes_version"`
	ContainerRuntime  string            `json:"container_runtime"`
}

func (r RegisterRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return orcherr.Invalid("name", "is required")
	}
	if strings.TrimSpace(r.Address) == "" {
		return orcherr.Invalid("address", "is required")
	}
	return nil
}

type HeartbeatRequest struct {
	Status    Status    `json:"status"`
	Resources Resources `json:"resources"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics is the per-node view served to monitoring callers.
type Metrics struct {
	NodeID        string    `json:"node_id"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	Resources     Resources `json:"resources"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	SinceSeen     string    `json:"since_seen"`
}

func (n EdgeNode) String() string {
	return fmt.Sprintf("%s (%s)", n.Name, n.ID)
}
