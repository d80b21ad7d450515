// Package checkin implements QR and confirmation-code verification of guest
// arrivals at the door.
package checkin

// State is the state of a check-in session.
type State string

const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateVerifying State = "verifying"
	StateVerified  State = "verified"
	StateRejected  State = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonWrongBusiness Reason = "wrong_business"
	ReasonCancelled     Reason = "cancelled"
	ReasonDeclined      Reason = "declined"
	ReasonLookupFailed  Reason = "lookup_failed"
)

// FSM holds the allowed session transitions.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates the check-in FSM. Any state may return to idle on close.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateIdle:      {StateScanning},
			StateScanning:  {StateVerifying, StateIdle},
			StateVerifying: {StateVerified, StateRejected, StateIdle},
			StateVerified:  {StateScanning, StateIdle},
			StateRejected:  {StateScanning, StateIdle},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
