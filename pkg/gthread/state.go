package gthread

import "fmt"

// State is the lifecycle state of a task.
type State uint8

const (
	Allocated State = iota
	Ready
	Running
	Blocked
	Zombie
)

var stateNames = [...]string{
	Allocated: "ALLOCATED",
	Ready:     "READY",
	Running:   "RUNNING",
	Blocked:   "BLOCKED",
	Zombie:    "ZOMBIE",
}

// String returns the upper-case name of the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// MarshalText lets states appear by name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal returns true once the task's entry point has returned.
func (s State) IsTerminal() bool {
	return s == Zombie
}

// IsRunnable returns true for states the scheduler may select.
func (s State) IsRunnable() bool {
	return s == Ready || s == Running
}

// ValidTransitions defines the allowed task state transitions. The
// scheduler enforces it: an illegal move panics. Zombie is final; a
// Zombie record can only be released.
var ValidTransitions = map[State][]State{
	Allocated: {Ready},
	Ready:     {Running},
	Running:   {Ready, Blocked, Zombie},
	Blocked:   {Ready},
	Zombie:    {},
}

// CanTransitionTo returns true if moving from s to next is valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// setState moves s to next, panicking on a move the table does not allow.
func (s *slot) setState(next State) {
	if !s.state.CanTransitionTo(next) {
		panic(fmt.Sprintf("gthread: illegal task transition %s -> %s", s.state, next))
	}
	s.state = next
}
