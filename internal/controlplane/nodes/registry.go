// Package nodes owns edge node identity, capabilities and heartbeat-derived health.
package nodes

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VerteraIO/edgefleet/internal/controlplane/stores"
	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

const defaultTopology = "default"

type Options struct {
	// StalenessThreshold is the maximum age of a node's last heartbeat before
	// the sweep marks it OFFLINE.
	StalenessThreshold time.Duration
	// InitialStatus is ONLINE or REGISTERED.
	InitialStatus Status
	Now           func() time.Time
	Logger        zerolog.Logger
}

// Registry is the node table. All methods are safe for concurrent use.
type Registry struct {
	nodes     *stores.Table[EdgeNode]
	staleness time.Duration
	initial   Status
	now       func() time.Time
	log       zerolog.Logger
}

func NewRegistry(opts Options) *Registry {
	if opts.StalenessThreshold <= 0 {
		opts.StalenessThreshold = 2 * time.Minute
	}
	if opts.InitialStatus == "" {
		opts.InitialStatus = StatusOnline
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		nodes:     stores.New(cloneNode),
		staleness: opts.StalenessThreshold,
		initial:   opts.InitialStatus,
		now:       opts.Now,
		log:       opts.Logger.With().Str("component", "node-registry").Logger(),
	}
}

// StalenessThreshold returns the configured heartbeat staleness threshold.
func (r *Registry) StalenessThreshold() time.Duration { return r.staleness }

// Register creates a node entry with a fresh id. The entry is visible to
// readers and to the next scheduling tick as soon as this returns.
func (r *Registry) Register(req RegisterRequest) (EdgeNode, error) {
	if err := req.validate(); err != nil {
		return EdgeNode{}, err
	}
	now := r.now().UTC()
	node := EdgeNode{
		Name:              req.Name,
		Address:           req.Address,
		Status:            r.initial,
		LastHeartbeat:     now,
		Labels:            req.Labels,
		Capabilities:      req.Capabilities,
		Region:            req.Region,
		Zone:              req.Zone,
		KubernetesVersion: req.KubernetesVersion,
		ContainerRuntime:  req.ContainerRuntime,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if node.Labels == nil {
		node.Labels = make(map[string]string)
	}
	if node.Capabilities == nil {
		node.Capabilities = []string{}
	}
	if node.Region == "" {
		node.Region = defaultTopology
	}
	if node.Zone == "" {
		node.Zone = defaultTopology
	}
	for {
		node.ID = uuid.NewString()
		if r.nodes.Insert(node.ID, node) {
			break
		}
	}
	r.log.Info().Str("node_id", node.ID).Str("name", node.Name).Str("region", node.Region).
		Str("zone", node.Zone).Msg("node registered")
	return cloneNode(node), nil
}

// Heartbeat overwrites status, resources and the heartbeat timestamp. An empty
// status means ONLINE. Heartbeats are never rejected for being older than
// another in-flight heartbeat: the last writer wins.
func (r *Registry) Heartbeat(id string, req HeartbeatRequest) (EdgeNode, error) {
	status := StatusOnline
	if req.Status != "" {
		st, err := ParseStatus(string(req.Status))
		if err != nil {
			return EdgeNode{}, err
		}
		status = st
	}
	now := r.now().UTC()
	node, found, _ := r.nodes.Update(id, func(n *EdgeNode) error {
		if n.Status != status {
			r.log.Debug().Str("node_id", id).Str("from", string(n.Status)).Str("to", string(status)).
				Msg("node status changed by heartbeat")
		}
		n.Status = status
		n.Resources = req.Resources
		n.LastHeartbeat = now
		n.UpdatedAt = now
		return nil
	})
	if !found {
		return EdgeNode{}, orcherr.NotFound("node", id)
	}
	return node, nil
}

func (r *Registry) Get(id string) (EdgeNode, error) {
	n, ok := r.nodes.Get(id)
	if !ok {
		return EdgeNode{}, orcherr.NotFound("node", id)
	}
	return n, nil
}

// List returns a snapshot of every node in registration order.
func (r *Registry) List() []EdgeNode {
	return r.nodes.Snapshot()
}

// Unregister removes the node. Scheduling passes that already snapshotted it
// are not invalidated.
func (r *Registry) Unregister(id string) error {
	if _, ok := r.nodes.Delete(id); !ok {
		return orcherr.NotFound("node", id)
	}
	r.log.Info().Str("node_id", id).Msg("node unregistered")
	return nil
}

// Sweep marks every ONLINE or REGISTERED node whose last heartbeat is older
// than the staleness threshold as OFFLINE and returns their ids. Nodes already
// OFFLINE are not touched, so repeated sweeps are no-ops.
func (r *Registry) Sweep(now time.Time) []string {
	now = now.UTC()
	return r.nodes.UpdateAll(func(id string, n *EdgeNode) bool {
		if !n.Status.Sweepable() || now.Sub(n.LastHeartbeat) <= r.staleness {
			return false
		}
		r.log.Warn().Str("node_id", id).Str("name", n.Name).Time("last_heartbeat", n.LastHeartbeat).
			Msg("node missed heartbeats, marking offline")
		n.Status = StatusOffline
		n.UpdatedAt = now
		return true
	})
}

// Counts returns the total and ONLINE node counts.
func (r *Registry) Counts() (total, online int) {
	online = r.nodes.Count(func(n EdgeNode) bool { return n.Status == StatusOnline })
	return r.nodes.Len(), online
}

func (r *Registry) Metrics(id string) (Metrics, error) {
	n, err := r.Get(id)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		NodeID:        n.ID,
		Name:          n.Name,
		Status:        n.Status,
		Resources:     n.Resources,
		LastHeartbeat: n.LastHeartbeat,
		SinceSeen:     r.now().Sub(n.LastHeartbeat).Round(time.Second).String(),
	}, nil
}
