package turn

// State is the phase of the assistant's single conversational turn.
type State int

const (
	// StateIdle: recognizer stopped and nothing in flight (silent mode,
	// startup, shutdown).
	StateIdle State = iota
	// StateListening: recognizer running, waiting for an utterance.
	StateListening
	// StateThinking: a question is with the model or a tool.
	StateThinking
	// StateSpeaking: the answer is being played back.
	StateSpeaking
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}
