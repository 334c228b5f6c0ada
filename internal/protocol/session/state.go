package session

// State is one session loop state. Idle and Listening belong to the supervisor.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateConnected  State = "connected"
	StateReceiving  State = "receiving"
	StateProcessing State = "processing"
	StateClosed     State = "closed"
)

// Transition is one observed state change.
type Transition struct {
	SessionID uint64
	From      State
	To        State
}
