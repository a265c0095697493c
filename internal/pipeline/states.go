package pipeline

// State is a step of the encrypt or decrypt state machine.
type State int

// Encrypt runs Start → Archiving → DeriveKey → Sealing → WritingContainer
// → (ShreddingSource) → Done. Decrypt runs Start → ReadingContainer →
// DeriveKey → Opening → Extracting → (ShreddingContainer) → Done.
const (
	StateStart State = iota
	StateArchiving
	StateDeriveKey
	StateSealing
	StateWritingContainer
	StateShreddingSource
	StateReadingContainer
	StateOpening
	StateExtracting
	StateShreddingContainer
	StateDone

	StateArchiveFailed
	StateDeriveFailed
	StateSealFailed
	StateWriteFailed
	StateReadFailed
	StateAuthFailed
	StateExtractFailed
)

var stateNames = map[State]string{
	StateStart:              "start",
	StateArchiving:          "archiving",
	StateDeriveKey:          "deriving key",
	StateSealing:            "sealing",
	StateWritingContainer:   "writing container",
	StateShreddingSource:    "shredding source",
	StateReadingContainer:   "reading container",
	StateOpening:            "opening",
	StateExtracting:         "extracting",
	StateShreddingContainer: "shredding container",
	StateDone:               "done",
	StateArchiveFailed:      "archive failed",
	StateDeriveFailed:       "key derivation failed",
	StateSealFailed:         "seal failed",
	StateWriteFailed:        "write failed",
	StateReadFailed:         "read failed",
	StateAuthFailed:         "authentication failed",
	StateExtractFailed:      "extract failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "unknown"
}

// Failed reports whether s is a terminal failure state.
func (s State) Failed() bool {
	return s >= StateArchiveFailed
}

// Terminal reports whether the state machine stops in s.
func (s State) Terminal() bool {
	return s == StateDone || s.Failed()
}
