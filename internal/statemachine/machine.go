// File: internal/statemachine/machine.go
// State machines with an authoring lifecycle (Draft -> Active -> Inactive,
// Deleted terminal) and a runtime current-state pointer independent of that
// lifecycle. All mutation of one machine is serialized behind its mutex:
// transitions are atomic and never observable half-applied.
package statemachine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"github.com/riftlab/automaton/api/schemas"
)

// Business-rule violations. These reflect object lifecycle misuse and are a
// distinct error kind from plain input validation; callers can match them
// with errors.Is.
var (
	ErrNotDraft             = errors.New("machine is not in draft status")
	ErrNotActive            = errors.New("machine is not active")
	ErrDeleted              = errors.New("machine has been deleted")
	ErrUnknownState         = errors.New("state does not exist in this machine")
	ErrDuplicateState       = errors.New("state already exists in this machine")
	ErrTransitionNotAllowed = errors.New("transition is not permitted by the transition table")
	ErrUnderSpecified       = errors.New("activation requires at least two states and one transition")
)

// Status is the machine's authoring lifecycle position.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

// InitialStateName is the state every machine starts with and returns to on
// Reset.
const InitialStateName = "Initial"

// State is one node: a name plus a typed variable bag rules evaluate against.
type State struct {
	ID   string
	Name string
	Vars map[string]schemas.Value
}

// Transition is one edge of the transition table. An empty guard always
// passes.
type Transition struct {
	ID       string
	FromID   string
	ToID     string
	GuardSrc string
	guard    *vm.Program
}

// Event records one completed transition for audit and testability.
type Event struct {
	ID        string    `json:"id"`
	MachineID string    `json:"machine_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

type boundRule struct {
	spec schemas.RuleSpec
	cond *vm.Program
	ord  int
}

// Triggered reports one machine rule that fired (or failed) during
// EvaluateRules.
type Triggered struct {
	Rule    string
	Actions []string
	ToState string
	Err     string
}

// Machine is one state machine instance. Definitions become read-only once
// Active; the runtime currentStateID is single-writer via the mutex.
type Machine struct {
	mu          sync.Mutex
	id          string
	name        string
	status      Status
	states      map[string]*State // by ID
	idByName    map[string]string
	transitions []*Transition
	rules       []*boundRule
	initialID   string
	currentID   string
	outbox      []Event
}

// NewMachine creates a Draft machine holding only the initial state.
func NewMachine(name string) (*Machine, error) {
	if name == "" {
		return nil, fmt.Errorf("machine name must not be empty")
	}
	m := &Machine{
		id:       uuid.NewString(),
		name:     name,
		status:   StatusDraft,
		states:   make(map[string]*State),
		idByName: make(map[string]string),
	}
	initial := &State{ID: uuid.NewString(), Name: InitialStateName, Vars: map[string]schemas.Value{}}
	m.states[initial.ID] = initial
	m.idByName[initial.Name] = initial.ID
	m.initialID = initial.ID
	m.currentID = initial.ID
	return m, nil
}

// FromSpec builds a Draft machine from its stored definition. The spec's
// states are added on top of the implicit initial state unless it names one
// itself.
func FromSpec(spec *schemas.MachineSpec) (*Machine, error) {
	if spec == nil {
		return nil, fmt.Errorf("machine spec must not be nil")
	}
	m, err := NewMachine(spec.Name)
	if err != nil {
		return nil, err
	}
	if spec.ID != "" {
		m.id = spec.ID
	}
	for _, st := range spec.States {
		if st.Name == InitialStateName {
			// Merge variables into the implicit initial state.
			initial := m.states[m.initialID]
			for k, v := range st.Vars {
				initial.Vars[k] = v
			}
			continue
		}
		if _, err := m.AddState(st.Name, st.Vars); err != nil {
			return nil, err
		}
	}
	for _, tr := range spec.Transitions {
		if err := m.AddTransition(tr.From, tr.To, tr.Guard); err != nil {
			return nil, err
		}
	}
	for _, r := range spec.Rules {
		if r.ToState != "" {
			if _, ok := m.idByName[r.ToState]; !ok {
				return nil, fmt.Errorf("rule %q targets %w: %q", r.Name, ErrUnknownState, r.ToState)
			}
		}
		if err := m.AddRule(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ID returns the machine's identifier.
func (m *Machine) ID() string { return m.id }

// Name returns the machine's name.
func (m *Machine) Name() string { return m.name }

// Status returns the authoring lifecycle status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// AddState adds a named state. Permitted only while Draft.
func (m *Machine) AddState(name string, vars map[string]schemas.Value) (string, error) {
	if name == "" {
		return "", fmt.Errorf("state name must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireDraft(); err != nil {
		return "", err
	}
	if _, exists := m.idByName[name]; exists {
		return "", fmt.Errorf("%w: %q", ErrDuplicateState, name)
	}
	if vars == nil {
		vars = map[string]schemas.Value{}
	}
	st := &State{ID: uuid.NewString(), Name: name, Vars: vars}
	m.states[st.ID] = st
	m.idByName[name] = st.ID
	return st.ID, nil
}

// AddTransition adds an edge between two existing states. Referencing an
// unknown state is a hard failure.
func (m *Machine) AddTransition(fromName, toName, guardSrc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireDraft(); err != nil {
		return err
	}
	fromID, ok := m.idByName[fromName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, fromName)
	}
	toID, ok := m.idByName[toName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, toName)
	}
	tr := &Transition{ID: uuid.NewString(), FromID: fromID, ToID: toID, GuardSrc: guardSrc}
	if guardSrc != "" {
		prog, err := expr.Compile(guardSrc, expr.AsBool())
		if err != nil {
			return fmt.Errorf("compile guard of transition %s->%s: %w", fromName, toName, err)
		}
		tr.guard = prog
	}
	m.transitions = append(m.transitions, tr)
	return nil
}

// AddRule binds a rule to the machine. Permitted only while Draft.
func (m *Machine) AddRule(spec schemas.RuleSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireDraft(); err != nil {
		return err
	}
	if spec.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	cond, err := expr.Compile(spec.Condition, expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile machine rule %q: %w", spec.Name, err)
	}
	m.rules = append(m.rules, &boundRule{spec: spec, cond: cond, ord: len(m.rules)})
	return nil
}

func (m *Machine) requireDraft() error {
	if m.status == StatusDeleted {
		return ErrDeleted
	}
	if m.status != StatusDraft {
		return fmt.Errorf("%w (status %s)", ErrNotDraft, m.status)
	}
	return nil
}

// Activate transitions the lifecycle Draft -> Active. It fails
// deterministically unless the machine has at least two states and one
// transition.
func (m *Machine) Activate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StatusDeleted:
		return ErrDeleted
	case StatusActive:
		return nil
	case StatusInactive:
		m.status = StatusActive
		return nil
	}
	if len(m.states) < 2 || len(m.transitions) == 0 {
		return fmt.Errorf("%w: have %d states, %d transitions", ErrUnderSpecified, len(m.states), len(m.transitions))
	}
	m.status = StatusActive
	return nil
}

// Deactivate transitions Active -> Inactive.
func (m *Machine) Deactivate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusDeleted {
		return ErrDeleted
	}
	if m.status != StatusActive {
		return fmt.Errorf("%w (status %s)", ErrNotActive, m.status)
	}
	m.status = StatusInactive
	return nil
}

// Delete moves the machine into the terminal Deleted status.
func (m *Machine) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusDeleted {
		return ErrDeleted
	}
	m.status = StatusDeleted
	return nil
}

// CurrentState returns the name of the runtime current state.
func (m *Machine) CurrentState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[m.currentID].Name
}

// CurrentVars returns a copy of the current state's variable bag.
func (m *Machine) CurrentVars() map[string]schemas.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	vars := make(map[string]schemas.Value, len(m.states[m.currentID].Vars))
	for k, v := range m.states[m.currentID].Vars {
		vars[k] = v
	}
	return vars
}

// CanTransitionTo is the read-only transition table query: it reports whether
// an edge from the current state to the target exists and its guard passes.
func (m *Machine) CanTransitionTo(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	toID, ok := m.idByName[target]
	if !ok {
		return false
	}
	_, allowed := m.allowedEdge(toID)
	return allowed
}

// allowedEdge finds a table edge current->toID whose guard passes.
// Caller holds the mutex.
func (m *Machine) allowedEdge(toID string) (*Transition, bool) {
	cur := m.states[m.currentID]
	for _, tr := range m.transitions {
		if tr.FromID != m.currentID || tr.ToID != toID {
			continue
		}
		if tr.guard == nil {
			return tr, true
		}
		out, err := vm.Run(tr.guard, varsEnv(cur.Vars))
		if err != nil {
			continue
		}
		if pass, ok := out.(bool); ok && pass {
			return tr, true
		}
	}
	return nil, false
}

// TransitionTo moves the runtime state to the named target. Transitioning to
// the current state is a no-op and emits no event. The target must exist and
// the transition table must permit the move (use ForceTransitionTo to
// bypass the table). The state id updates in one step under the lock.
func (m *Machine) TransitionTo(target, reason string) error {
	return m.transition(target, reason, false)
}

// ForceTransitionTo moves the runtime state without consulting the
// transition table. The target must still exist.
func (m *Machine) ForceTransitionTo(target, reason string) error {
	return m.transition(target, reason, true)
}

func (m *Machine) transition(target, reason string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusDeleted {
		return ErrDeleted
	}
	toID, ok := m.idByName[target]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, target)
	}
	if toID == m.currentID {
		return nil
	}
	if !force {
		if _, allowed := m.allowedEdge(toID); !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, m.states[m.currentID].Name, target)
		}
	}
	from := m.states[m.currentID].Name
	m.currentID = toID
	m.outbox = append(m.outbox, Event{
		ID:        uuid.NewString(),
		MachineID: m.id,
		FromState: from,
		ToState:   target,
		Reason:    reason,
		At:        time.Now().UTC(),
	})
	return nil
}

// Reset returns the runtime state to the initial state regardless of the
// current position.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentID == m.initialID {
		return
	}
	from := m.states[m.currentID].Name
	m.currentID = m.initialID
	m.outbox = append(m.outbox, Event{
		ID:        uuid.NewString(),
		MachineID: m.id,
		FromState: from,
		ToState:   InitialStateName,
		Reason:    "reset",
		At:        time.Now().UTC(),
	})
}

// DrainEvents returns all recorded transition events and clears the outbox.
// The caller owns delivery; the machine never pushes events anywhere itself.
func (m *Machine) DrainEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.outbox
	m.outbox = nil
	return events
}

// EvaluateRules runs the machine's active bound rules, ascending priority,
// against the current state's variable bag overlaid with extra context
// entries. Only meaningful while Active. A rule whose condition errors is
// reported in its Triggered entry and never aborts its siblings.
func (m *Machine) EvaluateRules(extra map[string]any) ([]Triggered, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusActive {
		return nil, fmt.Errorf("%w (status %s)", ErrNotActive, m.status)
	}

	ordered := make([]*boundRule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.spec.Active {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].spec.Priority != ordered[j].spec.Priority {
			return ordered[i].spec.Priority < ordered[j].spec.Priority
		}
		return ordered[i].ord < ordered[j].ord
	})

	env := varsEnv(m.states[m.currentID].Vars)
	for k, v := range extra {
		env[k] = v
	}

	var triggered []Triggered
	for _, r := range ordered {
		out, err := vm.Run(r.cond, env)
		if err != nil {
			triggered = append(triggered, Triggered{Rule: r.spec.Name, Err: err.Error()})
			continue
		}
		if match, ok := out.(bool); ok && match {
			triggered = append(triggered, Triggered{
				Rule:    r.spec.Name,
				Actions: r.spec.ThenActions,
				ToState: r.spec.ToState,
			})
		}
	}
	return triggered, nil
}

func varsEnv(vars map[string]schemas.Value) map[string]any {
	env := make(map[string]any, len(vars))
	for k, v := range vars {
		env[k] = v.Native()
	}
	return env
}
