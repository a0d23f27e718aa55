// File: internal/session/session.go
// The control loop: one long-lived task per automation session driving
// Sense -> Judge -> Act. The three stages run sequentially within a cycle so
// Act always sees the decision derived from this cycle's frame; there is no
// cross-cycle pipelining, which keeps state machine transitions totally
// ordered.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
	"github.com/riftlab/automaton/internal/config"
	"github.com/riftlab/automaton/internal/execution"
	"github.com/riftlab/automaton/internal/judgment"
	"github.com/riftlab/automaton/internal/perception"
	"github.com/riftlab/automaton/internal/recognition"
	"github.com/riftlab/automaton/internal/rules"
)

// Session drives one automation script against one target.
type Session struct {
	id         string
	cfg        config.SessionConfig
	logger     *zap.Logger
	perception *perception.Service
	judge      *judgment.Service
	planner    *execution.Planner
	dispatcher *execution.Dispatcher
	ruleEngine *rules.Engine
	recog      *recognition.Engine

	window     string
	preprocess schemas.PreprocessOptions

	mu        sync.RWMutex
	script    *schemas.Script
	templates []*schemas.Template
	machineID string
}

// Option configures a Session.
type Option func(*Session)

// WithWindow targets a specific window instead of the whole screen.
func WithWindow(handle string) Option {
	return func(s *Session) { s.window = handle }
}

// WithPreprocess sets the frame preprocessing applied before recognition.
func WithPreprocess(p schemas.PreprocessOptions) Option {
	return func(s *Session) { s.preprocess = p }
}

// New assembles a session around a loaded script. The script's rules are
// compiled into the rule engine immediately; a compile failure surfaces here
// rather than mid-loop.
func New(
	cfg config.SessionConfig,
	logger *zap.Logger,
	perceptionSvc *perception.Service,
	judge *judgment.Service,
	planner *execution.Planner,
	dispatcher *execution.Dispatcher,
	ruleEngine *rules.Engine,
	recog *recognition.Engine,
	script *schemas.Script,
	templates []*schemas.Template,
	machineID string,
	opts ...Option,
) (*Session, error) {
	if script == nil {
		return nil, fmt.Errorf("session requires a script")
	}
	if err := ruleEngine.Swap(script.Rules); err != nil {
		return nil, fmt.Errorf("load script %q: %w", script.Name, err)
	}
	id := uuid.NewString()
	s := &Session{
		id:         id,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "session"), zap.String("session_id", id)),
		perception: perceptionSvc,
		judge:      judge,
		planner:    planner,
		dispatcher: dispatcher,
		ruleEngine: ruleEngine,
		recog:      recog,
		script:     script,
		templates:  templates,
		machineID:  machineID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UpdateScript hot-swaps the running script. Rules compile first; on failure
// the old script stays active and the error is returned.
func (s *Session) UpdateScript(script *schemas.Script) error {
	if script == nil {
		return fmt.Errorf("script must not be nil")
	}
	if err := s.ruleEngine.Swap(script.Rules); err != nil {
		return err
	}
	s.mu.Lock()
	s.script = script
	s.mu.Unlock()
	s.logger.Info("Script hot-swapped", zap.String("script", script.Name))
	return nil
}

// Run executes the control loop until cancellation or a fatal dispatch
// failure. A single cycle's failure is logged and the loop proceeds; only
// the fatal class terminates the session with an error.
func (s *Session) Run(ctx context.Context) error {
	s.mu.RLock()
	script := s.script
	templates := s.templates
	s.mu.RUnlock()

	interval := script.Interval()
	if s.cfg.Interval > 0 {
		interval = s.cfg.Interval
	}

	req := &schemas.SenseRequest{
		Templates:    templates,
		WindowHandle: s.window,
		Preprocess:   s.preprocess,
		Interval:     interval,
		Metadata:     map[string]string{"script": script.Name, "session": s.id},
	}

	results, err := s.perception.Monitor(ctx, req)
	if err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	s.logger.Info("Session started",
		zap.String("script", script.Name),
		zap.Duration("interval", interval),
		zap.Int("templates", len(templates)))
	defer s.logStats()

	cycles := 0
	for senseResult := range results {
		cycles++
		if err := s.cycle(ctx, senseResult); err != nil {
			if errors.Is(err, execution.ErrSinkDisconnected) {
				s.logger.Error("Fatal dispatch failure, stopping session", zap.Error(err))
				return err
			}
			if ctx.Err() != nil {
				break
			}
			s.logger.Warn("Cycle failed, continuing", zap.Int("cycle", cycles), zap.Error(err))
		}
	}

	s.logger.Info("Session stopped", zap.Int("cycles", cycles))
	return nil
}

// cycle runs Judge and Act for one sense result.
func (s *Session) cycle(ctx context.Context, senseResult *schemas.SenseResult) error {
	cycleCtx := ctx
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	s.mu.RLock()
	script := s.script
	machineID := s.machineID
	s.mu.RUnlock()

	ruleIDs := make([]string, 0, len(script.Rules))
	for _, r := range script.Rules {
		ruleIDs = append(ruleIDs, r.Name)
	}

	judgeRes, err := s.judge.Judge(cycleCtx, &schemas.JudgmentRequest{
		RuleIDs:        ruleIDs,
		StateMachineID: machineID,
		SenseResults:   []*schemas.SenseResult{senseResult},
		Metadata:       senseResult.Metadata,
		DefaultActions: script.DefaultActions,
	})
	if err != nil {
		return fmt.Errorf("judge: %w", err)
	}

	if err := s.act(cycleCtx, script, judgeRes); err != nil {
		return err
	}

	// The machine moves only after the decision's actions have been
	// dispatched, so a triggered rule always acts from the state it was
	// evaluated in.
	s.applyTransition(machineID, judgeRes.StateMachine)
	return nil
}

// act resolves and dispatches the decision's actions. A NoAction decision
// dispatches nothing.
func (s *Session) act(ctx context.Context, script *schemas.Script, judgeRes *schemas.JudgmentResult) error {
	if judgeRes.Decision.Kind == schemas.DecisionNoAction {
		return nil
	}

	actions := s.resolveActions(script, judgeRes.Decision.ActionIDs)
	if len(actions) == 0 {
		return nil
	}

	plan := s.planner.Plan(actions)
	execRes, err := s.dispatcher.Execute(ctx, plan)
	if err != nil {
		if errors.Is(err, execution.ErrSinkDisconnected) {
			return err
		}
		return fmt.Errorf("execute plan: %w", err)
	}

	s.logger.Debug("Cycle complete",
		zap.String("decision", string(judgeRes.Decision.Kind)),
		zap.String("rule", judgeRes.Decision.RuleName),
		zap.Int("actions_executed", execRes.ActionsExecuted),
		zap.Int("failures", len(execRes.Failures)))
	return nil
}

// applyTransition moves the script's machine to the state the judgment
// selected and logs the drained transition events. A rejection by the
// transition table or a guard leaves the machine where it is; the loop
// proceeds.
func (s *Session) applyTransition(machineID string, sm *schemas.StateMachineOutcome) {
	if machineID == "" || sm == nil || sm.NextState == "" {
		return
	}
	events, err := s.judge.ApplyTransition(machineID, sm.NextState, sm.TransitionReason)
	if err != nil {
		s.logger.Warn("State transition rejected",
			zap.String("machine_id", machineID),
			zap.String("target", sm.NextState),
			zap.Error(err))
		return
	}
	for _, ev := range events {
		s.logger.Info("State transition",
			zap.String("machine_id", ev.MachineID),
			zap.String("from", ev.FromState),
			zap.String("to", ev.ToState),
			zap.String("reason", ev.Reason))
	}
}

// resolveActions expands action identifiers into their concrete input
// sequences. An unknown identifier is logged and skipped; the rest of the
// decision still executes.
func (s *Session) resolveActions(script *schemas.Script, actionIDs []string) []schemas.GameAction {
	var actions []schemas.GameAction
	for _, id := range actionIDs {
		seq, ok := script.Actions[id]
		if !ok {
			s.logger.Warn("Decision references unknown action", zap.String("action_id", id))
			continue
		}
		actions = append(actions, seq...)
	}
	return actions
}

func (s *Session) logStats() {
	stats := s.recog.Stats()
	s.logger.Info("Recognition statistics",
		zap.Uint64("attempts", stats.Attempts),
		zap.Uint64("successes", stats.Successes),
		zap.Uint64("failures", stats.Failures),
		zap.Duration("avg_match_time", stats.AvgDuration()))
}

// WaitInterval is a small helper for callers pacing restarts.
func WaitInterval(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
