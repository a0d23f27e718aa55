// File: internal/statemachine/registry.go
package statemachine

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
)

// Registry tracks live machine instances by id. Machine definitions are
// read-only once Active and may be read by any session; each machine's
// runtime state stays single-writer behind its own mutex.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	logger   *zap.Logger
}

// NewRegistry creates an empty machine registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		machines: make(map[string]*Machine),
		logger:   logger.With(zap.String("component", "statemachine")),
	}
}

// Add registers a machine instance.
func (r *Registry) Add(m *Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[m.ID()] = m
}

// Get returns the machine with the given id.
func (r *Registry) Get(id string) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[id]
	if !ok {
		return nil, fmt.Errorf("no state machine registered with id %q", id)
	}
	return m, nil
}

// Remove drops a machine instance from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.machines, id)
}

// LoadSpec builds a machine from its stored definition, activates it, and
// registers it.
func (r *Registry) LoadSpec(spec *schemas.MachineSpec) (*Machine, error) {
	m, err := FromSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("build machine %q: %w", spec.Name, err)
	}
	if err := m.Activate(); err != nil {
		return nil, fmt.Errorf("activate machine %q: %w", spec.Name, err)
	}
	r.Add(m)
	r.logger.Info("State machine loaded",
		zap.String("machine", m.Name()),
		zap.String("id", m.ID()))
	return m, nil
}

// Process evaluates the machine's rules against the overlay context and
// reports the outcome the Judge layer consumes.
func (r *Registry) Process(machineID string, extra map[string]any) (*schemas.StateMachineOutcome, error) {
	m, err := r.Get(machineID)
	if err != nil {
		return nil, err
	}
	triggered, err := m.EvaluateRules(extra)
	if err != nil {
		return nil, err
	}
	outcome := &schemas.StateMachineOutcome{
		MachineID:    machineID,
		CurrentState: m.CurrentState(),
	}
	for _, t := range triggered {
		if t.Err != "" {
			r.logger.Warn("Machine rule evaluation failed",
				zap.String("machine", m.Name()),
				zap.String("rule", t.Rule),
				zap.String("error", t.Err))
			continue
		}
		outcome.TriggeredRules = append(outcome.TriggeredRules, t.Rule)
		outcome.TriggeredActions = append(outcome.TriggeredActions, t.Actions...)
		if t.ToState != "" && outcome.NextState == "" {
			// Highest-priority transition request wins; the rest are
			// reported as triggered but do not move the machine.
			outcome.NextState = t.ToState
			outcome.TransitionReason = "rule " + t.Rule
		}
	}
	return outcome, nil
}

// ApplyTransition moves a machine's runtime state and returns the drained
// transition events. A table or guard rejection comes back as an error with
// the outbox untouched.
func (r *Registry) ApplyTransition(machineID, target, reason string) ([]Event, error) {
	m, err := r.Get(machineID)
	if err != nil {
		return nil, err
	}
	if err := m.TransitionTo(target, reason); err != nil {
		return nil, err
	}
	return m.DrainEvents(), nil
}
