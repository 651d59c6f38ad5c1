// Package presence tracks the tri-state activity indicator for one
// conversation: whether the remote character is idle, thinking about a
// request, or actively speaking (emitting text chunks or playing audio).
//
// The machine enforces the per-exchange ordering idle → thinking → speaking
// → idle. [Machine.Complete] is legal from any state so that failure paths
// and playback completion can always return the conversation to idle.
//
// All methods are safe for concurrent use.
package presence

import (
	"errors"
	"sync"
)

// ErrInvalidState is returned when a transition is requested from a state
// that does not permit it.
var ErrInvalidState = errors.New("presence: transition not allowed from current state")

// State is the activity indicator value.
type State int

const (
	// StateIdle means no exchange is outstanding and no audio is playing.
	StateIdle State = iota

	// StateThinking means a request has been dispatched and no output has
	// been observed yet.
	StateThinking

	// StateSpeaking means the first output unit (text chunk or ready audio)
	// has arrived and the response is being emitted.
	StateSpeaking
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Listener observes committed transitions. It is called outside the machine's
// lock and must not call back into the Machine.
type Listener func(from, to State)

// Option is a functional option for configuring a [Machine].
type Option func(*Machine)

// WithListener registers a transition listener. Only committed transitions
// are reported; rejected operations and no-op completes are not.
func WithListener(l Listener) Option {
	return func(m *Machine) {
		m.listener = l
	}
}

// Machine is the presence state machine. The zero value is usable and starts
// in [StateIdle]; use [NewMachine] when options are needed.
type Machine struct {
	listener Listener

	mu    sync.Mutex
	state State
}

// NewMachine creates a Machine in [StateIdle].
func NewMachine(opts ...Option) *Machine {
	m := &Machine{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginRequest transitions idle → thinking. It fails with [ErrInvalidState]
// from any other state: only one outstanding exchange is permitted at a time.
func (m *Machine) BeginRequest() error {
	return m.transition(StateIdle, StateThinking)
}

// MarkActive transitions thinking → speaking, called when the first
// observable output unit arrives. It fails with [ErrInvalidState] from any
// other state.
func (m *Machine) MarkActive() error {
	return m.transition(StateThinking, StateSpeaking)
}

// Complete returns the machine to idle from any state. Completing an already
// idle machine is a no-op, so success, failure, and playback-end paths may
// all call it unconditionally.
func (m *Machine) Complete() {
	m.mu.Lock()
	from := m.state
	m.state = StateIdle
	m.mu.Unlock()

	if from != StateIdle && m.listener != nil {
		m.listener(from, StateIdle)
	}
}

func (m *Machine) transition(from, to State) error {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return ErrInvalidState
	}
	m.state = to
	m.mu.Unlock()

	if m.listener != nil {
		m.listener(from, to)
	}
	return nil
}
