// File: internal/rules/engine.go
// Prioritized boolean decision rules over a per-cycle context. Conditions are
// expr bytecode compiled at registration time; evaluation is side-effect-free.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
)

// compiledRule pairs a rule spec with its compiled programs and the
// registration ordinal used for stable tie-breaking.
type compiledRule struct {
	spec  schemas.RuleSpec
	cond  *vm.Program
	conf  *vm.Program
	order int
}

// Engine registers rules and evaluates them against contexts. It is safe for
// concurrent evaluation; registration and swapping take the write lock.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string]*compiledRule
	nextID int
	logger *zap.Logger
}

// NewEngine creates an empty rule engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		rules:  make(map[string]*compiledRule),
		logger: logger.With(zap.String("component", "rules")),
	}
}

// Register compiles and stores one rule. The rule name is its identifier;
// registering an existing name replaces the rule but keeps its original
// insertion ordinal so tie-breaking stays stable across edits.
func (e *Engine) Register(spec schemas.RuleSpec) error {
	cr, err := compile(spec)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.rules[spec.Name]; ok {
		cr.order = old.order
	} else {
		cr.order = e.nextID
		e.nextID++
	}
	e.rules[spec.Name] = cr
	return nil
}

// Swap atomically replaces the entire rule set. Everything compiles first;
// if any rule fails the old set stays active.
func (e *Engine) Swap(specs []schemas.RuleSpec) error {
	compiled := make(map[string]*compiledRule, len(specs))
	for i, spec := range specs {
		cr, err := compile(spec)
		if err != nil {
			return err
		}
		cr.order = i
		compiled[spec.Name] = cr
	}
	e.mu.Lock()
	e.rules = compiled
	e.nextID = len(specs)
	e.mu.Unlock()
	e.logger.Info("Rule set swapped", zap.Int("count", len(specs)))
	return nil
}

func compile(spec schemas.RuleSpec) (*compiledRule, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("rule name must not be empty")
	}
	cond, err := expr.Compile(spec.Condition, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition of rule %q: %w", spec.Name, err)
	}
	cr := &compiledRule{spec: spec, cond: cond}
	if spec.Confidence != "" {
		conf, err := expr.Compile(spec.Confidence, expr.AsFloat64())
		if err != nil {
			return nil, fmt.Errorf("compile confidence of rule %q: %w", spec.Name, err)
		}
		cr.conf = conf
	}
	return cr, nil
}

// Evaluate runs one rule against the context. An unknown rule id is an error;
// a condition that fails at runtime (missing variable, type mismatch) is also
// an error — missing data must be visible, never silently false.
func (e *Engine) Evaluate(ruleID string, ctx *Context) (schemas.RuleEvaluationResult, error) {
	e.mu.RLock()
	cr, ok := e.rules[ruleID]
	e.mu.RUnlock()
	if !ok {
		return schemas.RuleEvaluationResult{RuleID: ruleID}, fmt.Errorf("unknown rule %q", ruleID)
	}
	return e.evaluate(cr, ctx)
}

func (e *Engine) evaluate(cr *compiledRule, ctx *Context) (schemas.RuleEvaluationResult, error) {
	res := schemas.RuleEvaluationResult{RuleID: cr.spec.Name}

	if !cr.spec.Active {
		// Inactive rules never match; this is policy, not an error.
		return res, nil
	}

	env := ctx.Env()
	out, err := vm.Run(cr.cond, env)
	if err != nil {
		return res, fmt.Errorf("evaluate rule %q: %w", cr.spec.Name, err)
	}
	match, ok := out.(bool)
	if !ok {
		return res, fmt.Errorf("evaluate rule %q: condition did not produce a boolean", cr.spec.Name)
	}

	if !match {
		res.MatchedActions = append(res.MatchedActions, cr.spec.ElseActions...)
		return res, nil
	}

	res.IsMatch = true
	res.Confidence = 1.0
	if cr.conf != nil {
		c, err := vm.Run(cr.conf, env)
		if err != nil {
			return schemas.RuleEvaluationResult{RuleID: cr.spec.Name},
				fmt.Errorf("evaluate confidence of rule %q: %w", cr.spec.Name, err)
		}
		f, ok := c.(float64)
		if !ok {
			return schemas.RuleEvaluationResult{RuleID: cr.spec.Name},
				fmt.Errorf("confidence of rule %q did not produce a number", cr.spec.Name)
		}
		if f < 0 {
			f = 0
		} else if f > 1 {
			f = 1
		}
		res.Confidence = f
	}
	res.MatchedActions = append(res.MatchedActions, cr.spec.ThenActions...)
	return res, nil
}

// EvaluateAll evaluates each listed rule in isolation. A failing evaluation
// becomes its own IsMatch=false entry carrying the error reason and never
// prevents the remaining rules from being evaluated.
func (e *Engine) EvaluateAll(ruleIDs []string, ctx *Context) []schemas.RuleEvaluationResult {
	results := make([]schemas.RuleEvaluationResult, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		res, err := e.Evaluate(id, ctx)
		if err != nil {
			e.logger.Warn("Rule evaluation failed", zap.String("rule", id), zap.Error(err))
			res = schemas.RuleEvaluationResult{RuleID: id, Error: err.Error()}
		}
		results = append(results, res)
	}
	return results
}

// SelectBest picks the winning match: highest confidence first, then lowest
// priority ordinal, then registration order. Returns nil when nothing
// matched. Given fixed confidences the choice is fully deterministic.
func (e *Engine) SelectBest(results []schemas.RuleEvaluationResult) *schemas.RuleEvaluationResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	type candidate struct {
		res      schemas.RuleEvaluationResult
		priority int
		order    int
	}
	var matches []candidate
	for _, r := range results {
		if !r.IsMatch {
			continue
		}
		priority, order := 0, 0
		if cr, ok := e.rules[r.RuleID]; ok {
			priority = cr.spec.Priority
			order = cr.order
		}
		matches = append(matches, candidate{res: r, priority: priority, order: order})
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].res.Confidence != matches[j].res.Confidence {
			return matches[i].res.Confidence > matches[j].res.Confidence
		}
		if matches[i].priority != matches[j].priority {
			return matches[i].priority < matches[j].priority
		}
		return matches[i].order < matches[j].order
	})
	best := matches[0].res
	return &best
}

// Priority reports a registered rule's priority ordinal, for callers that
// need it for ordering decisions.
func (e *Engine) Priority(ruleID string) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cr, ok := e.rules[ruleID]
	if !ok {
		return 0, false
	}
	return cr.spec.Priority, true
}
