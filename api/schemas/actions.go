// File: api/schemas/actions.go
// Input primitives and execution planning types for the Act stage.
package schemas

import "time"

// ActionType enumerates the input primitives the dispatcher can emit.
type ActionType string

const (
	ActionKeyDown     ActionType = "key_down"
	ActionKeyUp       ActionType = "key_up"
	ActionText        ActionType = "text"
	ActionMouseMove   ActionType = "mouse_move"
	ActionMouseDown   ActionType = "mouse_down"
	ActionMouseUp     ActionType = "mouse_up"
	ActionMouseWheel  ActionType = "mouse_wheel"
	ActionDelay       ActionType = "delay"
)

// MouseButton identifies a mouse button for click actions.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// GameAction is a single input primitive with an explicit post-action delay.
// The delay governs the cadence the target application observes between
// consecutive events; the dispatcher sleeps for it after every dispatch.
type GameAction struct {
	Type        ActionType  `json:"type" mapstructure:"type"`
	Key         string      `json:"key,omitempty" mapstructure:"key"`
	Text        string      `json:"text,omitempty" mapstructure:"text"`
	X           int         `json:"x,omitempty" mapstructure:"x"`
	Y           int         `json:"y,omitempty" mapstructure:"y"`
	Button      MouseButton `json:"button,omitempty" mapstructure:"button"`
	WheelDelta  int         `json:"wheel_delta,omitempty" mapstructure:"wheel_delta"`
	PostDelayMs int         `json:"post_delay_ms,omitempty" mapstructure:"post_delay_ms"`
}

// PostDelay returns the declared post-action delay as a duration.
func (a GameAction) PostDelay() time.Duration {
	return time.Duration(a.PostDelayMs) * time.Millisecond
}

// ExecutionStrategy tags how the actions within a group may be dispatched.
type ExecutionStrategy string

const (
	StrategySequential  ExecutionStrategy = "sequential"
	StrategyParallel    ExecutionStrategy = "parallel"
	StrategyConditional ExecutionStrategy = "conditional"
)

// ActionGroup is a set of actions sharing one execution strategy.
type ActionGroup struct {
	Strategy ExecutionStrategy `json:"strategy"`
	Actions  []GameAction      `json:"actions"`
}

// ExecutionPlan is an ordered list of action groups ready for dispatch.
// Groups execute in order; only the actions inside a Parallel group may
// interleave.
type ExecutionPlan struct {
	Groups []ActionGroup `json:"groups"`
}

// ActionCount returns the total number of actions across all groups.
func (p ExecutionPlan) ActionCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Actions)
	}
	return n
}

// ActionFailure records one recoverable per-action dispatch failure.
type ActionFailure struct {
	Index  int        `json:"index"`
	Action ActionType `json:"action"`
	Reason string     `json:"reason"`
}

// ExecutionResult reports what a plan execution actually did. A fatal error
// (sink disconnected) stops the plan early; recoverable failures do not.
type ExecutionResult struct {
	ActionsExecuted int             `json:"actions_executed"`
	Failures        []ActionFailure `json:"failures,omitempty"`
	Duration        time.Duration   `json:"duration"`
}
