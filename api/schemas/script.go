// File: api/schemas/script.go
// Authoring-time artifacts: scripts, rule specs, and state machine specs.
// These are what the store persists; the runtime engines compile them into
// their own internal representations at session start.
package schemas

import "time"

// RuleSpec is the stored form of one decision rule. Condition and Confidence
// are expression source strings compiled by the rule engine at load time.
type RuleSpec struct {
	Name string `json:"name" mapstructure:"name"`
	// Condition is a side-effect-free boolean expression over context
	// variables. An unresolved variable reference is a hard evaluation
	// failure, never silently false.
	Condition string `json:"condition" mapstructure:"condition"`
	// Confidence optionally computes the match confidence (0..1) from the
	// context. When empty a match scores 1.0, so selection among always-on
	// rules degrades to priority order.
	Confidence  string   `json:"confidence,omitempty" mapstructure:"confidence"`
	ThenActions []string `json:"then_actions" mapstructure:"then_actions"`
	ElseActions []string `json:"else_actions,omitempty" mapstructure:"else_actions"`
	// Priority is an explicit ordinal, not a weight. Lower wins ties.
	Priority int  `json:"priority" mapstructure:"priority"`
	Active   bool `json:"active" mapstructure:"active"`
	// ToState names the state a machine-bound rule moves its machine to
	// when it fires. The move still goes through the transition table and
	// guards. Ignored on script-level rules.
	ToState string `json:"to_state,omitempty" mapstructure:"to_state"`
}

// StateSpec is the stored form of one state machine node.
type StateSpec struct {
	Name string           `json:"name" mapstructure:"name"`
	Vars map[string]Value `json:"vars,omitempty" mapstructure:"vars"`
}

// TransitionSpec is the stored form of one state machine edge.
type TransitionSpec struct {
	From string `json:"from" mapstructure:"from"`
	To   string `json:"to" mapstructure:"to"`
	// Guard is an optional boolean expression over the current state's
	// variable bag; an empty guard always passes.
	Guard string `json:"guard,omitempty" mapstructure:"guard"`
}

// MachineSpec is the stored form of a state machine definition.
type MachineSpec struct {
	ID          string           `json:"id" mapstructure:"id"`
	Name        string           `json:"name" mapstructure:"name"`
	States      []StateSpec      `json:"states" mapstructure:"states"`
	Transitions []TransitionSpec `json:"transitions" mapstructure:"transitions"`
	Rules       []RuleSpec       `json:"rules,omitempty" mapstructure:"rules"`
}

// Script bundles everything one automation session needs: the rules to
// evaluate each cycle, the named action sequences those rules reference, the
// templates to look for, and optionally a state machine.
type Script struct {
	ID   string `json:"id" mapstructure:"id"`
	Name string `json:"name" mapstructure:"name"`
	// TemplateRefs name the stored templates this script senses for.
	TemplateRefs []string `json:"template_refs" mapstructure:"template_refs"`
	Rules        []RuleSpec `json:"rules" mapstructure:"rules"`
	// Actions maps an action identifier (referenced by rules and default
	// actions) to the concrete input sequence it expands to.
	Actions        map[string][]GameAction `json:"actions" mapstructure:"actions"`
	StateMachineID string                  `json:"state_machine_id,omitempty" mapstructure:"state_machine_id"`
	DefaultActions []string                `json:"default_actions,omitempty" mapstructure:"default_actions"`
	// IntervalMs is the monitor capture interval for this script.
	IntervalMs int       `json:"interval_ms" mapstructure:"interval_ms"`
	UpdatedAt  time.Time `json:"updated_at" mapstructure:"-"`
}

// Interval returns the script's capture interval, defaulting to 250ms.
func (s *Script) Interval() time.Duration {
	if s.IntervalMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(s.IntervalMs) * time.Millisecond
}
