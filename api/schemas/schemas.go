// File: api/schemas/schemas.go
// Shared value types for the Sense -> Judge -> Act pipeline. These are plain
// data carriers; behavior lives in the internal packages that produce them.
package schemas

import (
	"image"
	"time"
)

// MatchAlgorithm tags which similarity search produced a recognition result.
type MatchAlgorithm string

const (
	// AlgorithmNCC is normalized cross-correlation, the default matcher.
	AlgorithmNCC MatchAlgorithm = "ncc"
	// AlgorithmSAD is mean absolute pixel difference, cheaper but less robust
	// to lighting changes.
	AlgorithmSAD MatchAlgorithm = "sad"
)

// RecognitionStatus classifies the outcome of one template match attempt.
type RecognitionStatus string

const (
	RecognitionSuccess RecognitionStatus = "success"
	RecognitionFailed  RecognitionStatus = "failed"
	RecognitionPartial RecognitionStatus = "partial"
	RecognitionTimeout RecognitionStatus = "timeout"
)

// Point is a pixel coordinate in frame space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Region is a rectangular screen area. A zero Region means "whole screen".
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether the region is unset.
func (r Region) IsZero() bool {
	return r.X == 0 && r.Y == 0 && r.Width == 0 && r.Height == 0
}

// Frame is one captured screen sample. The image is never mutated after
// capture; preprocessing produces a new buffer.
type Frame struct {
	Img        image.Image
	Region     Region
	CapturedAt time.Time
}

// Template is an immutable reference image to search for in captured frames.
// Templates are authored once and read many times per loop iteration, so the
// grayscale buffer must be treated as read-only by all consumers.
type Template struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Img       *image.Gray    `json:"-"`
	Region    Region         `json:"region"`
	Threshold float64        `json:"threshold"`
	Algorithm MatchAlgorithm `json:"algorithm"`
	// Version is bumped by the store on every edit.
	Version int `json:"version"`
}

// RecognitionResult is the outcome of matching one template against one frame.
// It is a value object: produced once per match attempt, never mutated.
type RecognitionResult struct {
	TemplateID    string            `json:"template_id"`
	TemplateName  string            `json:"template_name"`
	Status        RecognitionStatus `json:"status"`
	Position      *Point            `json:"position,omitempty"`
	Confidence    float64           `json:"confidence"`
	Algorithm     MatchAlgorithm    `json:"algorithm"`
	Duration      time.Duration     `json:"duration"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

// Found reports whether the match succeeded.
func (r RecognitionResult) Found() bool {
	return r.Status == RecognitionSuccess
}

// PreprocessOptions control frame preparation before recognition.
type PreprocessOptions struct {
	Grayscale bool `json:"grayscale" mapstructure:"grayscale"`
	// ContrastBoost linearly stretches pixel intensity around the midpoint.
	// 1.0 (or 0) means no change.
	ContrastBoost float64 `json:"contrast_boost" mapstructure:"contrast_boost"`
}

// SenseRequest describes one perception pass: which templates to look for,
// where to look, and how often (Interval is only used by Monitor).
type SenseRequest struct {
	Templates    []*Template
	Region       Region
	WindowHandle string
	Preprocess   PreprocessOptions
	Interval     time.Duration
	Metadata     map[string]string
}

// SenseResult aggregates the recognition results of one frame.
type SenseResult struct {
	Results    []RecognitionResult `json:"results"`
	FrameHash  uint64              `json:"frame_hash"`
	CapturedAt time.Time           `json:"captured_at"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

// Result returns the recognition result for the named template, if present.
func (s *SenseResult) Result(templateName string) (RecognitionResult, bool) {
	for _, r := range s.Results {
		if r.TemplateName == templateName {
			return r, true
		}
	}
	return RecognitionResult{}, false
}

// ValueKind discriminates the closed variant type used for context variables.
type ValueKind string

const (
	KindNumber   ValueKind = "number"
	KindBool     ValueKind = "bool"
	KindString   ValueKind = "string"
	KindPosition ValueKind = "position"
)

// Value is a typed context variable. It replaces a stringly-typed
// map[string]any bag with a closed union of the kinds rules may reference.
type Value struct {
	Kind ValueKind `json:"kind"`
	Num  float64   `json:"num,omitempty"`
	Bool bool      `json:"bool,omitempty"`
	Str  string    `json:"str,omitempty"`
	Pos  Point     `json:"pos,omitempty"`
}

// Number wraps a float as a Value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Boolean wraps a bool as a Value.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// String wraps a string as a Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Position wraps a point as a Value.
func Position(p Point) Value { return Value{Kind: KindPosition, Pos: p} }

// Native unwraps the value into the representation the expression engine
// evaluates against.
func (v Value) Native() any {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	case KindPosition:
		return map[string]any{"x": v.Pos.X, "y": v.Pos.Y}
	default:
		return nil
	}
}

// DecisionKind names how a Decision was produced.
type DecisionKind string

const (
	DecisionNoAction     DecisionKind = "no_action"
	DecisionRuleBased    DecisionKind = "rule_based"
	DecisionStateMachine DecisionKind = "state_machine"
	DecisionHybrid       DecisionKind = "hybrid"
	DecisionDefault      DecisionKind = "default"
)

// Decision is the aggregated output of one Judge invocation: which action
// identifiers to execute and why. Produced fresh per judgment call.
type Decision struct {
	Kind      DecisionKind `json:"kind"`
	ActionIDs []string     `json:"action_ids"`
	// RuleName identifies the winning rule for RuleBased/Hybrid decisions.
	RuleName string `json:"rule_name,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// RuleEvaluationResult is the per-rule outcome of an evaluation batch. A rule
// whose condition failed to evaluate is reported here with IsMatch=false and
// the error message; it never aborts sibling evaluations.
type RuleEvaluationResult struct {
	RuleID         string   `json:"rule_id"`
	IsMatch        bool     `json:"is_match"`
	Confidence     float64  `json:"confidence"`
	MatchedActions []string `json:"matched_actions,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// StateMachineOutcome captures what the state machine contributed to one
// judgment: the rules it triggered and any transition that resulted.
type StateMachineOutcome struct {
	MachineID        string   `json:"machine_id"`
	CurrentState     string   `json:"current_state"`
	TriggeredRules   []string `json:"triggered_rules,omitempty"`
	TriggeredActions []string `json:"triggered_actions,omitempty"`
	// NextState is the transition target requested by the highest-priority
	// triggered rule, if any. The control loop applies it after the act
	// stage; an empty value means the machine stays where it is.
	NextState        string `json:"next_state,omitempty"`
	TransitionReason string `json:"transition_reason,omitempty"`
}

// JudgmentRequest is the input to one Judge invocation.
type JudgmentRequest struct {
	RuleIDs        []string
	StateMachineID string
	SenseResults   []*SenseResult
	Variables      map[string]Value
	Metadata       map[string]string
	DefaultActions []string
}

// JudgmentResult is the full output of one Judge invocation, including the
// per-rule results so callers can see why the decision came out as it did.
type JudgmentResult struct {
	Decision     Decision               `json:"decision"`
	RuleResults  []RuleEvaluationResult `json:"rule_results"`
	StateMachine *StateMachineOutcome   `json:"state_machine,omitempty"`
	EvaluatedAt  time.Time              `json:"evaluated_at"`
}

// WindowInfo describes one top-level window reported by the capture capability.
type WindowInfo struct {
	Handle string `json:"handle"`
	Title  string `json:"title"`
	Bounds Region `json:"bounds"`
}
