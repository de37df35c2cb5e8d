// Package bootstrap owns the engine handle lifecycle: construction with
// retry, and reconstruction after a failed run.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/modelrun/internal/engine"
	"github.com/samcharles93/modelrun/internal/logger"
	"github.com/samcharles93/modelrun/internal/tensor"
)

var (
	ErrRetriesExhausted = errors.New("bootstrap: retries exhausted")
	ErrNilEngine        = errors.New("bootstrap: factory returned no engine")
)

// State is the lifecycle state of the engine handle.
type State int

const (
	Absent State = iota
	Constructing
	Ready
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Constructing:
		return "constructing"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controller owns at most one engine handle. It is not safe for concurrent
// use; the harness drives it from a single goroutine.
type Controller struct {
	factory engine.Factory
	model   engine.Model
	cfg     engine.Config
	policy  Policy
	log     logger.Logger

	state    State
	eng      engine.Engine
	attempts int
	lastInit time.Duration
}

func NewController(f engine.Factory, m engine.Model, cfg engine.Config, p Policy, log logger.Logger) *Controller {
	if log == nil {
		log = logger.Default()
	}
	return &Controller{
		factory: f,
		model:   m,
		cfg:     cfg,
		policy:  p,
		log:     log,
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() State { return c.state }

// Attempts reports how many times the factory has been called.
func (c *Controller) Attempts() int { return c.attempts }

// LastCreateLatency is the duration of the most recent successful construction.
func (c *Controller) LastCreateLatency() time.Duration { return c.lastInit }

// Acquire returns the ready engine, constructing it if needed. Construction
// failures are logged and retried per the policy.
func (c *Controller) Acquire(ctx context.Context) (engine.Engine, error) {
	if c.state == Ready && c.eng != nil {
		return c.eng, nil
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			c.state = Absent
			return nil, err
		}
		c.state = Constructing
		c.attempts++

		start := time.Now()
		eng, err := c.factory.Create(ctx, c.model, c.cfg)
		elapsed := time.Since(start)
		if err == nil && eng == nil {
			err = ErrNilEngine
		}
		if err == nil {
			c.eng = eng
			c.state = Ready
			c.lastInit = elapsed
			c.log.Info("create engine", "latency_ms", millis(elapsed), "attempt", attempt)
			return eng, nil
		}

		if eng != nil {
			_ = eng.Close()
		}
		c.state = Absent
		c.log.Error("create engine runtime error, retry", "attempt", attempt, "error", err)
		if c.policy.exhausted(attempt) {
			return nil, fmt.Errorf("%w after %d create attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		if err := c.policy.wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// Rebuild discards the current handle and constructs a new one.
func (c *Controller) Rebuild(ctx context.Context) (engine.Engine, error) {
	c.discard()
	return c.Acquire(ctx)
}

// Run calls Run on the ready engine until it succeeds, rebuilding the engine
// after every failure. The returned duration covers only the successful
// call. Buffers are untouched by reconstruction.
func (c *Controller) Run(ctx context.Context, stage string, inputs, outputs map[string]*tensor.Buffer, md *engine.RunMetadata) (time.Duration, error) {
	eng, err := c.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	for attempt := 1; ; attempt++ {
		if md != nil {
			md.Ops = md.Ops[:0]
		}
		start := time.Now()
		runErr := eng.Run(inputs, outputs, md)
		elapsed := time.Since(start)
		if runErr == nil {
			return elapsed, nil
		}

		c.log.Error(stage+" runtime error, retry", "attempt", attempt, "error", runErr)
		if c.policy.exhausted(attempt) {
			return 0, fmt.Errorf("%w after %d %s attempts: %w", ErrRetriesExhausted, attempt, stage, runErr)
		}
		if err := c.policy.wait(ctx, attempt); err != nil {
			return 0, err
		}
		if eng, err = c.Rebuild(ctx); err != nil {
			return 0, err
		}
	}
}

// Close releases the engine handle.
func (c *Controller) Close() error {
	if c.eng == nil {
		c.state = Absent
		return nil
	}
	err := c.eng.Close()
	c.eng = nil
	c.state = Absent
	return err
}

func (c *Controller) discard() {
	if c.eng != nil {
		if err := c.eng.Close(); err != nil {
			c.log.Warn("close discarded engine", "error", err)
		}
	}
	c.eng = nil
	c.state = Absent
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
