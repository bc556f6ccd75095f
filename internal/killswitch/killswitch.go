// Package killswitch implements the process-wide safety state machine that
// governs whether any new order may be submitted. Transitions are computed,
// durably persisted, and only then exposed to callers; a crash between
// compute and persist leaves the prior state intact on restart.
package killswitch

import (
	"fmt"
	"sync"
	"time"
)

// State of the kill switch
type State string

const (
	StateActive       State = "ACTIVE"
	StateHaltedAuto   State = "HALTED_AUTO"
	StateHaltedManual State = "HALTED_MANUAL"
	StateReconciling  State = "RECONCILING"
)

// Reason codes carried by transitions and notifications
const (
	ReasonExchangeErrorThreshold = "exchange_error_threshold"
	ReasonEquityAnomaly          = "equity_anomaly"
	ReasonUnexpectedPosition     = "unexpected_position"
	ReasonDailyDrawdown          = "daily_drawdown_limit"
	ReasonWeeklyDrawdown         = "weekly_drawdown_limit"
	ReasonReconciliationMismatch = "reconciliation_mismatch"
	ReasonReconciliationClean    = "reconciliation_clean"
	ReasonOperatorHalt           = "operator_halt"
	ReasonOperatorResume         = "operator_resume"
)

// validTransitions defines the allowed edges of the state machine
var validTransitions = map[State][]State{
	StateActive:       {StateHaltedAuto, StateHaltedManual},
	StateHaltedAuto:   {StateReconciling},
	StateHaltedManual: {StateReconciling},
	StateReconciling:  {StateActive, StateHaltedAuto},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsHalted reports whether a state blocks new entries
func (s State) IsHalted() bool {
	return s != StateActive
}

// Record is the durable form of the kill switch state
type Record struct {
	State       State     `json:"state"`
	Reason      string    `json:"reason"`
	TriggeredAt time.Time `json:"triggered_at"`
	TriggeredBy string    `json:"triggered_by"` // component that drove the transition
}

// Transition describes a completed state change for notification purposes
type Transition struct {
	From        State
	To          State
	Reason      string
	TriggeredBy string
	At          time.Time
}

// Persister durably writes the record before a transition completes
type Persister interface {
	Save(name string, v interface{}) error
}

// Switch is the kill switch instance. Transitions are driven only by the
// execution coordinator inside its exclusive mutation path; the internal
// lock exists so that monitoring readers can observe the last persisted
// value concurrently.
type Switch struct {
	mu       sync.RWMutex
	rec      Record
	store    Persister
	onChange func(Transition)
}

const snapshotName = "kill_switch"

// New creates a kill switch in the given record state. onChange receives one
// event per completed transition; it must be non-blocking (the dispatcher in
// the notifications package is the intended consumer).
func New(rec Record, store Persister, onChange func(Transition)) *Switch {
	return &Switch{rec: rec, store: store, onChange: onChange}
}

// Load restores the persisted kill switch state, defaulting to ACTIVE on
// first run. A persisted halted state survives restart and stays halted
// until an explicit operator resume.
func Load(store interface {
	Persister
	Load(name string, v interface{}) (bool, error)
}, onChange func(Transition), now time.Time) (*Switch, error) {
	var rec Record
	found, err := store.Load(snapshotName, &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		rec = Record{State: StateActive, Reason: "initial", TriggeredAt: now, TriggeredBy: "startup"}
		if err := store.Save(snapshotName, &rec); err != nil {
			return nil, err
		}
	}
	return New(rec, store, onChange), nil
}

// Current returns the last persisted record
func (s *Switch) Current() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}

// State returns the last persisted state
func (s *Switch) State() State {
	return s.Current().State
}

// Transition attempts from the current state to the target state. The new
// record is persisted before the in-memory state changes; on persistence
// failure the switch still reports the old state and the error must be
// treated as fatal by the caller.
func (s *Switch) Transition(to State, reason, triggeredBy string, now time.Time) error {
	s.mu.Lock()
	from := s.rec.State
	if from == to {
		s.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("illegal kill switch transition %s -> %s (%s)", from, to, reason)
	}

	next := Record{State: to, Reason: reason, TriggeredAt: now, TriggeredBy: triggeredBy}
	if err := s.store.Save(snapshotName, &next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.rec = next
	onChange := s.onChange
	s.mu.Unlock()

	// Notification is fire-and-forget, outside the consistency boundary:
	// delivery failure never blocks or reverts the transition.
	if onChange != nil {
		onChange(Transition{From: from, To: to, Reason: reason, TriggeredBy: triggeredBy, At: now})
	}
	return nil
}

// HaltAuto transitions to HALTED_AUTO from any state that allows it.
// From RECONCILING this is the mismatch edge; from ACTIVE the trigger edge.
// A switch already in HALTED_AUTO or HALTED_MANUAL stays put.
func (s *Switch) HaltAuto(reason, triggeredBy string, now time.Time) error {
	switch s.State() {
	case StateHaltedAuto, StateHaltedManual:
		return nil
	}
	return s.Transition(StateHaltedAuto, reason, triggeredBy, now)
}
