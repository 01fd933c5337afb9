// Package reconciler drives the control plane's periodic background work:
// the node health sweep, the scheduling tick and monitoring collection.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Task is one periodic job. Run is called once per Period until the
// reconciler's context is cancelled.
type Task struct {
	Name   string
	Period time.Duration
	Run    func(ctx context.Context)
}

type Reconciler struct {
	tasks []Task
	log   zerolog.Logger
}

func New(log zerolog.Logger, tasks ...Task) *Reconciler {
	return &Reconciler{tasks: tasks, log: log.With().Str("component", "reconciler").Logger()}
}

// Run starts every task on its own ticker and blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	for _, t := range r.tasks {
		if t.Period <= 0 {
			return fmt.Errorf("task %s: period must be positive", t.Name)
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range r.tasks {
		g.Go(func() error {
			r.loop(ctx, t)
			return nil
		})
	}
	r.log.Info().Int("tasks", len(r.tasks)).Msg("reconciler started")
	err := g.Wait()
	r.log.Info().Msg("reconciler stopped")
	return err
}

func (r *Reconciler) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()
	for {
		// cancellation is observed here, never inside a run
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, t)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context, t Task) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("task", t.Name).Interface("panic", p).Msg("periodic task panicked")
		}
	}()
	start := time.Now()
	t.Run(ctx)
	r.log.Trace().Str("task", t.Name).Dur("took", time.Since(start)).Msg("periodic task ran")
}
