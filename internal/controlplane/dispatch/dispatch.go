package dispatch

import (
	"sync"
	"time"
)

// Assignment tells a node agent to run one replica of a workload.
type Assignment struct {
	WorkloadID  string            `json:"workload_id"`
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	Image       string            `json:"image"`
	Environment map[string]string `json:"environment"`
	Replicas    int32             `json:"replicas"`
	Generation  int64             `json:"generation"`
	QueuedAt    time.Time         `json:"queued_at"`
}

// Manager keeps per-node pending assignments until the node's next heartbeat
// collects them.
type Manager struct {
	mu      sync.Mutex
	pending map[string][]Assignment // nodeID -> pending assignments
}

func NewManager() *Manager {
	return &Manager{pending: make(map[string][]Assignment)}
}

// AddPending queues a for nodeID. An older assignment for the same workload is
// replaced so a node only ever sees the latest placement.
func (m *Manager) AddPending(nodeID string, a Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.pending[nodeID]
	for i := range q {
		if q[i].WorkloadID == a.WorkloadID {
			q[i] = a
			return
		}
	}
	m.pending[nodeID] = append(q, a)
}

// DrainPending returns and clears all pending assignments for a node.
func (m *Manager) DrainPending(nodeID string) []Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.pending[nodeID]
	delete(m.pending, nodeID)
	return s
}

// Forget drops everything queued for a node, used when it is unregistered.
func (m *Manager) Forget(nodeID string) {
	m.mu.Lock()
	delete(m.pending, nodeID)
	m.mu.Unlock()
}

// ForgetWorkload drops every queued assignment for workloadID, used when the
// workload is deleted.
func (m *Manager) ForgetWorkload(workloadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for nodeID, q := range m.pending {
		kept := q[:0]
		for _, a := range q {
			if a.WorkloadID == workloadID {
				dropped++
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) == 0 {
			delete(m.pending, nodeID)
		} else {
			m.pending[nodeID] = kept
		}
	}
	return dropped
}

// Len returns the number of queued assignments across all nodes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.pending {
		n += len(q)
	}
	return n
}
