package projector

import (
	"fmt"
	"sync"
)

// State is the state of a driver.
type State int

const (
	// StateIdle waits for new records.
	StateIdle State = iota
	// StateFetching reads the next record from the source.
	StateFetching
	// StateApplying applies a rule to the record.
	StateApplying
	// StateWriting submits the document writes to the index store.
	StateWriting
	// StateCommitting commits the store and saves the checkpoint.
	StateCommitting
	// StateHalted is final, the driver failed to apply a record.
	StateHalted
	// StateStopped is final, the driver was stopped.
	StateStopped
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateFetching:   "fetching",
	StateApplying:   "applying",
	StateWriting:    "writing",
	StateCommitting: "committing",
	StateHalted:     "halted",
	StateStopped:    "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// final returns whether the state cannot be left anymore.
func (s State) final() bool {
	return s == StateHalted || s == StateStopped
}

type waiter struct {
	done     chan struct{}
	state    State
	minState bool
}

// StateReader is a read-only view of a Signal.
type StateReader interface {
	State() State
	IsState(State) bool
	WaitForState(State) <-chan struct{}
	WaitForStateMin(State) <-chan struct{}
}

// Signal holds the state of a driver and lets other goroutines wait for
// states.
type Signal struct {
	m       sync.RWMutex
	state   State
	waiters []*waiter
}

// NewSignal creates a signal in state initial.
func NewSignal(initial State) *Signal {
	return &Signal{state: initial}
}

// SetState changes the state and wakes up the goroutines waiting for it.
// Setting an unknown state or leaving a final state panics.
func (s *Signal) SetState(state State) *Signal {
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := stateNames[state]; !ok {
		panic(fmt.Errorf("trying to set illegal state %v", state))
	}
	if s.state == state {
		return s
	}
	if s.state.final() {
		panic(fmt.Errorf("trying to leave final state %v for %v", s.state, state))
	}

	s.state = state

	var pending []*waiter
	for _, w := range s.waiters {
		if w.state == state || (w.minState && state >= w.state) {
			close(w.done)
			continue
		}
		pending = append(pending, w)
	}
	s.waiters = pending
	return s
}

// IsState returns whether the signal is in state.
func (s *Signal) IsState(state State) bool {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.state == state
}

// State returns the current state.
func (s *Signal) State() State {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.state
}

// WaitForState returns a channel that is closed when the signal enters state.
func (s *Signal) WaitForState(state State) <-chan struct{} {
	return s.wait(&waiter{done: make(chan struct{}), state: state})
}

// WaitForStateMin returns a channel that is closed when the signal enters
// state or a higher one.
func (s *Signal) WaitForStateMin(state State) <-chan struct{} {
	return s.wait(&waiter{done: make(chan struct{}), state: state, minState: true})
}

func (s *Signal) wait(w *waiter) <-chan struct{} {
	s.m.Lock()
	defer s.m.Unlock()
	if cur := s.state; cur == w.state || (w.minState && cur >= w.state) {
		close(w.done)
	} else {
		s.waiters = append(s.waiters, w)
	}
	return w.done
}
