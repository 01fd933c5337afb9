// Package agent runs on an edge node: it enrolls with the controller, then
// heartbeats its resource usage and picks up the workload assignments the
// scheduler queued for it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/VerteraIO/edgefleet/internal/agent/collector"
	"github.com/VerteraIO/edgefleet/internal/controlplane/dispatch"
	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
	"github.com/VerteraIO/edgefleet/internal/controlplane/reconciler"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReportInterval    = 5 * time.Minute
)

type Options struct {
	Client            *Client
	Node              nodes.RegisterRequest
	Collector         collector.Collector
	HeartbeatInterval time.Duration
	ReportInterval    time.Duration
	// MaxEnrollWait bounds the backoff between failed enrollment attempts.
	MaxEnrollWait time.Duration
	// OnAssignment is called for every assignment a heartbeat returns.
	OnAssignment func(dispatch.Assignment)
	Now          func() time.Time
	Logger       zerolog.Logger
}

type Agent struct {
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	nodeID string
	token  string
}

func New(opts Options) (*Agent, error) {
	if opts.Client == nil {
		return nil, errors.New("agent: client is required")
	}
	if opts.Node.Name == "" || opts.Node.Address == "" {
		return nil, errors.New("agent: node name and address are required")
	}
	if opts.Collector == nil {
		opts.Collector = collector.NewHost()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	if opts.MaxEnrollWait <= 0 {
		opts.MaxEnrollWait = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &Agent{opts: opts, log: opts.Logger.With().Str("component", "agent").Logger()}
	if a.opts.OnAssignment == nil {
		a.opts.OnAssignment = a.logAssignment
	}
	return a, nil
}

// NodeID is the id the controller assigned, or "" before enrollment.
func (a *Agent) NodeID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodeID
}

// Run enrolls, retrying with backoff, then heartbeats until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = a.opts.MaxEnrollWait
	b.MaxElapsedTime = 0
	err := backoff.RetryNotify(func() error { return a.enroll(ctx) }, backoff.WithContext(b, ctx),
		func(err error, wait time.Duration) {
			a.log.Warn().Err(err).Dur("retry_in", wait).Msg("enrollment failed")
		})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	a.beat(ctx)
	return reconciler.New(a.log,
		reconciler.Task{Name: "heartbeat", Period: a.opts.HeartbeatInterval, Run: a.beat},
		reconciler.Task{Name: "resource-report", Period: a.opts.ReportInterval, Run: a.report},
	).Run(ctx)
}

// enroll registers the node when it has no id yet and fetches a token.
func (a *Agent) enroll(ctx context.Context) error {
	a.mu.Lock()
	id := a.nodeID
	a.mu.Unlock()

	if id == "" {
		n, err := a.opts.Client.Register(ctx, a.opts.Node)
		if err != nil {
			if HasStatus(err, http.StatusBadRequest) {
				return backoff.Permanent(fmt.Errorf("register: %w", err))
			}
			return fmt.Errorf("register: %w", err)
		}
		id = n.ID
		a.log.Info().Str("node_id", id).Msg("registered with controller")
	}
	tok, err := a.opts.Client.IssueToken(ctx, id)
	if err != nil {
		if HasStatus(err, http.StatusNotFound) {
			id = ""
		}
		a.setCreds(id, "")
		return fmt.Errorf("issue token: %w", err)
	}
	a.setCreds(id, tok.Token)
	a.log.Debug().Str("node_id", id).Time("expires_at", tok.ExpiresAt).Msg("token issued")
	return nil
}

func (a *Agent) setCreds(id, token string) {
	a.mu.Lock()
	a.nodeID, a.token = id, token
	a.mu.Unlock()
}

// beat sends one heartbeat. A 404 means the controller forgot the node and a
// 401 means the token is gone; both drop the stale credentials so the next
// beat re-enrolls.
func (a *Agent) beat(ctx context.Context) {
	a.mu.Lock()
	id, token := a.nodeID, a.token
	a.mu.Unlock()

	if token == "" {
		if err := a.enroll(ctx); err != nil {
			a.log.Warn().Err(err).Msg("re-enrollment failed")
			return
		}
		a.mu.Lock()
		id, token = a.nodeID, a.token
		a.mu.Unlock()
	}

	res, err := a.opts.Collector.Collect(ctx)
	if err != nil {
		a.log.Warn().Err(err).Str("collector", a.opts.Collector.Name()).Msg("resource collection incomplete")
	}
	out, err := a.opts.Client.Heartbeat(ctx, id, token, nodes.HeartbeatRequest{
		Status:    nodes.StatusOnline,
		Resources: res,
		Timestamp: a.opts.Now(),
	})
	switch {
	case err == nil:
	case HasStatus(err, http.StatusNotFound):
		a.log.Warn().Str("node_id", id).Msg("controller no longer knows this node, re-registering")
		a.setCreds("", "")
		return
	case HasStatus(err, http.StatusUnauthorized):
		a.log.Warn().Str("node_id", id).Msg("token rejected, requesting a new one")
		a.setCreds(id, "")
		return
	default:
		a.log.Error().Err(err).Msg("heartbeat failed")
		return
	}
	a.log.Debug().Str("status", string(out.Node.Status)).Int("assignments", len(out.Assignments)).Msg("heartbeat sent")
	for _, as := range out.Assignments {
		a.opts.OnAssignment(as)
	}
}

func (a *Agent) report(ctx context.Context) {
	res, err := a.opts.Collector.Collect(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("resource collection incomplete")
	}
	a.log.Info().
		Float64("cpu_pct", res.CPU.Percentage).
		Float64("memory_pct", res.Memory.Percentage).
		Float64("storage_pct", res.Storage.Percentage).
		Str("network", res.NetworkBandwidth).
		Msg("resource usage")
}

func (a *Agent) logAssignment(as dispatch.Assignment) {
	a.log.Info().
		Str("workload_id", as.WorkloadID).
		Str("name", as.Name).
		Str("image", as.Image).
		Int32("replicas", as.Replicas).
		Int64("generation", as.Generation).
		Msg("workload assigned")
}
