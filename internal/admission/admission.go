// Copyright 2025 James Ross
package admission

import (
	"context"
	"time"

	"github.com/juanmitaboada/redismultiplexer/internal/config"
	"go.uber.org/zap"
)

// State mirrors the two-state admission machine from spec.md §4.C. It is
// structurally the same shape as internal/breaker.CircuitBreaker's State
// enum, re-derived for queue-length watermarks instead of failure-rate
// sampling.
type State int

const (
	Healthy State = iota
	Stuck
)

func (s State) String() string {
	if s == Stuck {
		return "stuck"
	}
	return "healthy"
}

// Prober reads and trims a destination list. link.Link implements
// this to let the controller stay ignorant of the Redis wire protocol.
type Prober interface {
	Length(ctx context.Context) (int64, error)
	TrimHead(ctx context.Context, count int64) error
}

// Controller is the per-destination admission state machine. It is owned
// by exactly one worker goroutine; no locking is used, per spec.md §5's
// shared-resource policy.
type Controller struct {
	name   string
	limits config.Limits
	probe  Prober
	log    *zap.Logger

	state        State
	pktCounter   int64
	lastCheck    time.Time
	stuckFrom    time.Time
	checkedOnce  bool
	deletedTotal int64
}

// New constructs a Controller for one destination.
func New(name string, limits config.Limits, probe Prober, log *zap.Logger) *Controller {
	return &Controller{name: name, limits: limits, probe: probe, log: log, state: Healthy}
}

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// StuckSince returns the wall-clock time the destination entered the stuck
// state; the zero Time when healthy.
func (c *Controller) StuckSince() time.Time { return c.stuckFrom }

// DeletedTotal returns the cumulative number of items removed by head-trim.
func (c *Controller) DeletedTotal() int64 { return c.deletedTotal }

// Allow runs the admission decision algorithm from spec.md §4.C and reports
// whether an item may be pushed right now. It also performs length checks
// and head-trims as a side effect, exactly as the synchronous state machine
// requires.
func (c *Controller) Allow(ctx context.Context, now time.Time) (bool, error) {
	if !c.shouldCheck(now) {
		c.pktCounter--
		return c.state == Healthy, nil
	}
	if err := c.check(ctx, now); err != nil {
		return false, err
	}
	return c.state == Healthy, nil
}

// Refresh runs the same check-or-skip decision without an item to admit.
// Workers call this on an idle (timeout) pop so a Stuck destination can be
// cleared even while the source has nothing to deliver.
func (c *Controller) Refresh(ctx context.Context, now time.Time) error {
	if !c.shouldCheck(now) {
		return nil
	}
	return c.check(ctx, now)
}

func (c *Controller) shouldCheck(now time.Time) bool {
	if !c.checkedOnce {
		return true
	}
	if !c.limits.Configured() {
		return now.Sub(c.lastCheck) >= time.Duration(config.DefaultCheckIntervalSecs)*time.Second
	}
	if now.Sub(c.lastCheck) >= c.limits.CheckInterval() {
		return true
	}
	return c.pktCounter == 0
}

func (c *Controller) check(ctx context.Context, now time.Time) error {
	length, err := c.probe.Length(ctx)
	if err != nil {
		return err
	}
	c.checkedOnce = true
	c.lastCheck = now
	if c.limits.Configured() {
		c.pktCounter = c.limits.CheckIntervalPkts
	} else {
		c.pktCounter = 0
	}

	if !c.limits.Configured() {
		return nil
	}

	switch c.state {
	case Healthy:
		if length >= c.limits.HardWatermark {
			if c.limits.TrimBlock == nil {
				c.state = Stuck
				c.stuckFrom = now
				if c.log != nil {
					c.log.Warn("destination stuck", zap.String("destination", c.name), zap.Int64("length", length))
				}
				return nil
			}
			return c.trimUntilBelowHard(ctx, length)
		}
	case Stuck:
		if length < c.limits.SoftWatermark {
			c.state = Healthy
			c.stuckFrom = time.Time{}
			if c.log != nil {
				c.log.Warn("destination recovered", zap.String("destination", c.name))
			}
		}
	}
	return nil
}

// trimUntilBelowHard repeatedly trims the first TrimBlock entries until
// length < hard, matching invariant 7: exactly ceil((length-(hard-1))/block)
// blocks are removed.
func (c *Controller) trimUntilBelowHard(ctx context.Context, length int64) error {
	block := *c.limits.TrimBlock
	for length >= c.limits.HardWatermark {
		if err := c.probe.TrimHead(ctx, block); err != nil {
			return err
		}
		c.deletedTotal += block
		length -= block
	}
	return nil
}
