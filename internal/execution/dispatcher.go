// File: internal/execution/dispatcher.go
// Ordered action dispatch against the abstract input sink. Every action's
// declared post-delay is slept after its dispatch, which is what gives the
// target application a realistic typing/click cadence.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/riftlab/automaton/api/schemas"
)

// ErrSinkDisconnected is the fatal dispatch failure: the session must stop
// and surface it to the caller. Per-action false returns from the sink are
// recoverable and merely recorded.
var ErrSinkDisconnected = errors.New("input sink disconnected")

// Dispatcher executes plans against an input sink.
type Dispatcher struct {
	sink         schemas.InputSink
	logger       *zap.Logger
	limiter      *rate.Limiter
	defaultDelay time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRateLimit caps dispatched actions per second. Zero disables the cap.
func WithRateLimit(perSecond float64) DispatcherOption {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithDefaultPostDelay sets the delay applied to actions that declare none.
func WithDefaultPostDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.defaultDelay = delay }
}

// NewDispatcher creates a dispatcher bound to one input sink.
func NewDispatcher(sink schemas.InputSink, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:   sink,
		logger: logger.With(zap.String("component", "dispatcher")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute dispatches the plan group by group. Sequential groups run in
// declaration order; Parallel groups interleave their actions; Conditional
// groups degrade to sequential. A recoverable per-action failure is recorded
// and the plan continues; a fatal failure (sink disconnected or cancellation)
// stops the plan and returns the partial result alongside the error.
func (d *Dispatcher) Execute(ctx context.Context, plan schemas.ExecutionPlan) (schemas.ExecutionResult, error) {
	start := time.Now()
	var (
		mu     sync.Mutex
		result schemas.ExecutionResult
	)
	record := func(idx int, a schemas.GameAction, ok bool, reason string) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			result.ActionsExecuted++
			return
		}
		result.Failures = append(result.Failures, schemas.ActionFailure{
			Index:  idx,
			Action: a.Type,
			Reason: reason,
		})
	}

	index := 0
	for _, group := range plan.Groups {
		if !d.sink.Connected() {
			result.Duration = time.Since(start)
			return result, ErrSinkDisconnected
		}

		switch group.Strategy {
		case schemas.StrategyParallel:
			g, gctx := errgroup.WithContext(ctx)
			for i, action := range group.Actions {
				action := action
				idx := index + i
				g.Go(func() error {
					ok, reason, err := d.dispatchOne(gctx, action)
					if ok {
						// Dispatched even if the post-delay was cut short.
						record(idx, action, true, "")
					}
					if err != nil {
						return err
					}
					if !ok {
						record(idx, action, false, reason)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				result.Duration = time.Since(start)
				return result, err
			}
		default:
			for i, action := range group.Actions {
				ok, reason, err := d.dispatchOne(ctx, action)
				if ok {
					// Dispatched even if the post-delay was cut short.
					record(index+i, action, true, "")
				}
				if err != nil {
					result.Duration = time.Since(start)
					return result, err
				}
				if !ok {
					record(index+i, action, false, reason)
				}
			}
		}
		index += len(group.Actions)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// dispatchOne sends a single action and sleeps its post-delay. The returned
// error is reserved for fatal conditions; a false sink return comes back as
// ok=false with a reason.
func (d *Dispatcher) dispatchOne(ctx context.Context, a schemas.GameAction) (ok bool, reason string, err error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return false, "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	ok = true
	switch a.Type {
	case schemas.ActionKeyDown:
		ok = d.sink.SendKey(a.Key, true)
	case schemas.ActionKeyUp:
		ok = d.sink.SendKey(a.Key, false)
	case schemas.ActionText:
		ok = d.sink.SendText(a.Text)
	case schemas.ActionMouseMove:
		ok = d.sink.MoveMouse(a.X, a.Y)
	case schemas.ActionMouseDown:
		ok = d.sink.SendMouseButton(a.X, a.Y, a.Button, true)
	case schemas.ActionMouseUp:
		ok = d.sink.SendMouseButton(a.X, a.Y, a.Button, false)
	case schemas.ActionMouseWheel:
		ok = d.sink.SendWheel(a.WheelDelta)
	case schemas.ActionDelay:
		// Pure pause; the post-delay below is the whole action.
	default:
		return false, fmt.Sprintf("unsupported action type %q", a.Type), nil
	}

	if !ok {
		reason = "sink rejected action"
		d.logger.Warn("Action dispatch failed",
			zap.String("type", string(a.Type)),
			zap.String("key", a.Key))
		if !d.sink.Connected() {
			return false, reason, ErrSinkDisconnected
		}
	}

	delay := a.PostDelay()
	if delay <= 0 {
		delay = d.defaultDelay
	}
	if delay > 0 {
		if err := sleep(ctx, delay); err != nil {
			return ok, reason, err
		}
	}
	return ok, reason, nil
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
