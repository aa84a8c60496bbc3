package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Refresher periodically invalidates the cache and refetches the task
// collection on a cron schedule such as "@every 30s" or "*/5 * * * *".
type Refresher struct {
	sync     TaskSync
	schedule string
	timeout  time.Duration
	events   EventLogger

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc
}

// NewRefresher creates a Refresher. Each run is bounded by timeout.
func NewRefresher(ts TaskSync, schedule string, timeout time.Duration, events EventLogger) *Refresher {
	return &Refresher{sync: ts, schedule: schedule, timeout: timeout, events: events}
}

// Start schedules the refresh job. It stops when ctx is done or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("refresher already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := rcron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.runOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("scheduling refresh %q: %w", r.schedule, err)
	}
	r.cron = c
	r.cancel = cancel
	c.Start()

	go func() {
		<-runCtx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}
}

// runOnce invalidates the cache and refetches the collection.
func (r *Refresher) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.sync.Invalidate()
	tasks, err := r.sync.Refresh(runCtx)
	if r.events == nil {
		return
	}
	if err != nil {
		_ = r.events.LogEvent("refresh.failed", map[string]any{"error": err.Error()})
		return
	}
	_ = r.events.LogEvent("refresh.completed", map[string]any{"count": len(tasks)})
}
