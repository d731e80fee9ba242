package workflow

import (
	"fmt"
	"sort"
)

// StateMachine tracks one invoice through its lifecycle
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger, transitioning to the new state if allowed
	Fire(trigger Trigger) error

	// PermittedTriggers returns the triggers allowed in the current state, sorted
	PermittedTriggers() []Trigger
}

// Builder builds a configured state machine
type Builder interface {
	// Configure returns the configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine with the given initial state
	Build(initial State) (StateMachine, error)
}

// StateConfiguration configures transitions leaving one state
type StateConfiguration interface {
	// Permit allows trigger to move to toState
	Permit(trigger Trigger, toState State) StateConfiguration
}

type stateConfig struct {
	fromState   State
	transitions map[Trigger]State
}

type builder struct {
	configurations map[State]*stateConfig
}

type stateMachine struct {
	current        State
	configurations map[State]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() Builder {
	return &builder{configurations: make(map[State]*stateConfig)}
}

// Configure panics on an unknown state; configuration is static
func (b *builder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			fromState:   state,
			transitions: make(map[Trigger]State),
		}
		b.configurations[state] = config
	}
	return config
}

func (b *builder) Build(initial State) (StateMachine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, initial)
	}

	// Machines never share transition maps with the builder
	configs := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		transitions := make(map[Trigger]State, len(config.transitions))
		for trigger, to := range config.transitions {
			transitions[trigger] = to
		}
		configs[state] = &stateConfig{fromState: state, transitions: transitions}
	}

	return &stateMachine{current: initial, configurations: configs}, nil
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.transitions[trigger] = toState
	return c
}

func (m *stateMachine) State() State {
	return m.current
}

func (m *stateMachine) CanFire(trigger Trigger) bool {
	_, ok := m.target(trigger)
	return ok
}

func (m *stateMachine) Fire(trigger Trigger) error {
	to, ok := m.target(trigger)
	if !ok {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.current)
	}
	m.current = to
	return nil
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	config, exists := m.configurations[m.current]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

func (m *stateMachine) target(trigger Trigger) (State, bool) {
	config, exists := m.configurations[m.current]
	if !exists {
		return "", false
	}
	to, ok := config.transitions[trigger]
	return to, ok
}
