package thumbs

import "fmt"

// State is the lifecycle state of the thumbnail cache
type State int

const (
	StateIdle State = iota
	StateRestoringFromCache
	StateRestoredFromCache
	StateCalculating
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRestoringFromCache:
		return "restoring_from_cache"
	case StateRestoredFromCache:
		return "restored_from_cache"
	case StateCalculating:
		return "calculating"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Busy reports whether a restore or calculation is running
func (s State) Busy() bool {
	return s == StateRestoringFromCache || s == StateCalculating
}

// settled reports whether the cache may be reset for a new photo set
func (s State) settled() bool {
	return s == StateRestoredFromCache || s == StateCompleted
}

var transitions = map[State][]State{
	StateIdle:               {StateRestoringFromCache, StateCalculating},
	StateRestoringFromCache: {StateRestoredFromCache, StateCompleted},
	StateRestoredFromCache:  {StateCalculating, StateIdle},
	// back to RestoredFromCache when a calculation is cancelled
	StateCalculating: {StateCompleted, StateRestoredFromCache},
	StateCompleted:   {StateCalculating, StateIdle},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Bucket rounds width to the nearest multiple of step, never below one step
func Bucket(width, step int) int {
	if step <= 0 {
		step = 32
	}
	if width <= step {
		return step
	}
	return ((width + step/2) / step) * step
}
