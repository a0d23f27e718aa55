// File: internal/execution/planner.go
// Execution planning: ordering and grouping actions before dispatch. The
// baseline policy is one Sequential group preserving input order; the only
// split the planner proves safe is a run of key-up events on distinct keys,
// which cannot reorder anything observable.
package execution

import (
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
)

// Planner turns a flat action list into an ExecutionPlan.
type Planner struct {
	logger *zap.Logger
}

// NewPlanner creates a planner.
func NewPlanner(logger *zap.Logger) *Planner {
	return &Planner{logger: logger.With(zap.String("component", "planner"))}
}

// Plan groups the actions. Consecutive key-up events on pairwise distinct
// keys form a Parallel group (releasing independent keys is order-free);
// everything else stays in Sequential groups in declaration order.
func (p *Planner) Plan(actions []schemas.GameAction) schemas.ExecutionPlan {
	var plan schemas.ExecutionPlan
	var seq []schemas.GameAction

	flushSeq := func() {
		if len(seq) > 0 {
			plan.Groups = append(plan.Groups, schemas.ActionGroup{
				Strategy: schemas.StrategySequential,
				Actions:  seq,
			})
			seq = nil
		}
	}

	i := 0
	for i < len(actions) {
		run := parallelKeyUpRun(actions[i:])
		if run >= 2 {
			flushSeq()
			plan.Groups = append(plan.Groups, schemas.ActionGroup{
				Strategy: schemas.StrategyParallel,
				Actions:  actions[i : i+run],
			})
			i += run
			continue
		}
		seq = append(seq, actions[i])
		i++
	}
	flushSeq()

	if len(plan.Groups) > 1 {
		p.logger.Debug("Plan split into groups", zap.Int("groups", len(plan.Groups)))
	}
	return plan
}

// parallelKeyUpRun returns the length of the leading run of key-up actions
// whose keys are pairwise distinct.
func parallelKeyUpRun(actions []schemas.GameAction) int {
	seen := make(map[string]bool)
	n := 0
	for _, a := range actions {
		if a.Type != schemas.ActionKeyUp || a.Key == "" || seen[a.Key] {
			break
		}
		seen[a.Key] = true
		n++
	}
	return n
}
