// File: internal/judgment/service.go
// The Judge stage: build a per-cycle context, evaluate the requested rules
// and optional state machine, and compose exactly one Decision.
package judgment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
	"github.com/riftlab/automaton/internal/rules"
	"github.com/riftlab/automaton/internal/statemachine"
)

// Service composes the rule engine and state machine registry into one
// decision per cycle.
type Service struct {
	rules    *rules.Engine
	machines *statemachine.Registry
	logger   *zap.Logger
}

// New creates a judgment service.
func New(ruleEngine *rules.Engine, machines *statemachine.Registry, logger *zap.Logger) *Service {
	return &Service{
		rules:    ruleEngine,
		machines: machines,
		logger:   logger.With(zap.String("component", "judgment")),
	}
}

// Judge runs one judgment pass. Only a nil request is a hard failure: rule
// evaluation errors are captured per-rule inside the result, and a state
// machine failure degrades to a rule-only decision with a logged cause.
func (s *Service) Judge(ctx context.Context, req *schemas.JudgmentRequest) (*schemas.JudgmentResult, error) {
	if req == nil {
		return nil, fmt.Errorf("judgment request must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. Fresh context, owned by this invocation only.
	rctx := rules.NewContext()
	for _, sr := range req.SenseResults {
		rctx.AddSense(sr)
	}
	for name, v := range req.Variables {
		rctx.SetVar(name, v)
	}
	for k, v := range req.Metadata {
		rctx.Metadata[k] = v
	}

	// 2. Evaluate every requested rule; collect all results regardless of match.
	ruleResults := s.rules.EvaluateAll(req.RuleIDs, rctx)
	best := s.rules.SelectBest(ruleResults)

	// 3. Optional state machine processing against the same context.
	var smOutcome *schemas.StateMachineOutcome
	if req.StateMachineID != "" {
		outcome, err := s.machines.Process(req.StateMachineID, rctx.Env())
		if err != nil {
			s.logger.Warn("State machine processing failed",
				zap.String("machine_id", req.StateMachineID),
				zap.Error(err))
		} else {
			smOutcome = outcome
		}
	}

	// 4. Compose the decision.
	decision := compose(best, smOutcome, req.DefaultActions)
	s.logger.Debug("Judgment complete",
		zap.String("kind", string(decision.Kind)),
		zap.Int("actions", len(decision.ActionIDs)))

	return &schemas.JudgmentResult{
		Decision:     decision,
		RuleResults:  ruleResults,
		StateMachine: smOutcome,
		EvaluatedAt:  time.Now().UTC(),
	}, nil
}

// ApplyTransition forwards a judgment's state transition to the machine once
// the act stage has run. The caller decides when; the machines never move as
// a side effect of Judge itself.
func (s *Service) ApplyTransition(machineID, target, reason string) ([]statemachine.Event, error) {
	return s.machines.ApplyTransition(machineID, target, reason)
}

// compose applies the decision precedence: rule match first, state machine
// actions appended (Hybrid) or standing alone (StateMachine), default actions
// as the fallback, NoAction when nothing is available.
func compose(best *schemas.RuleEvaluationResult, sm *schemas.StateMachineOutcome, defaults []string) schemas.Decision {
	d := schemas.Decision{Kind: schemas.DecisionNoAction}

	if best != nil {
		d.Kind = schemas.DecisionRuleBased
		d.RuleName = best.RuleID
		d.ActionIDs = append(d.ActionIDs, best.MatchedActions...)
		d.Reason = fmt.Sprintf("rule %q matched with confidence %.3f", best.RuleID, best.Confidence)
	}

	if sm != nil && len(sm.TriggeredActions) > 0 {
		d.ActionIDs = append(d.ActionIDs, sm.TriggeredActions...)
		if best != nil {
			d.Kind = schemas.DecisionHybrid
			d.Reason += "; state machine contributed actions"
		} else {
			d.Kind = schemas.DecisionStateMachine
			d.Reason = fmt.Sprintf("state machine in state %q triggered actions", sm.CurrentState)
		}
	}

	if len(d.ActionIDs) == 0 {
		if len(defaults) > 0 {
			d.Kind = schemas.DecisionDefault
			d.ActionIDs = append(d.ActionIDs, defaults...)
			d.Reason = "fell back to default actions"
		} else {
			d.Kind = schemas.DecisionNoAction
			d.Reason = "no rule matched and no defaults configured"
		}
	}
	return d
}
