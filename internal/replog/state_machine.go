package replog

// StateMachine is the key-value map derived by replaying log entries in
// order. It mutates only via Apply; version counts applications.
type StateMachine struct {
	state   map[string][]byte
	version uint64
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: make(map[string][]byte)}
}

// Apply folds one entry into the state.
func (sm *StateMachine) Apply(e Entry) {
	applyTo(sm.state, e)
	sm.version++
}

// Get returns the value for key, or absent.
func (sm *StateMachine) Get(key string) ([]byte, bool) {
	v, ok := sm.state[key]
	return v, ok
}

// State returns a copy of the current map.
func (sm *StateMachine) State() map[string][]byte {
	out := make(map[string][]byte, len(sm.state))
	for k, v := range sm.state {
		out[k] = v
	}
	return out
}

// Len returns the number of live keys.
func (sm *StateMachine) Len() int { return len(sm.state) }

// Version returns the number of entries applied so far.
func (sm *StateMachine) Version() uint64 { return sm.version }
