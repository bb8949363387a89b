package chat

// State is where a session's turn pipeline currently is.
type State int

const (
	StateIdle State = iota
	StateAwaitingCondense
	StateAwaitingCompletion
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCondense:
		return "awaiting_condense"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	default:
		return "unknown"
	}
}
