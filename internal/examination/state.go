package examination

import "fmt"

// State is the position of a visit in the examination workflow.
type State int

const (
	StateNoPatient State = iota
	StatePatientSelected
	StateImageCaptured
	StatePredicting
	StateResultReady
	StateNoteSaved
)

func (s State) String() string {
	switch s {
	case StateNoPatient:
		return "no_patient"
	case StatePatientSelected:
		return "patient_selected"
	case StateImageCaptured:
		return "image_captured"
	case StatePredicting:
		return "predicting"
	case StateResultReady:
		return "result_ready"
	case StateNoteSaved:
		return "note_saved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state for API responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateNoPatient; candidate <= StateNoteSaved; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown visit state %q", text)
}

// canSelectPatient reports whether a patient may be chosen. The choice is
// open until an image has been captured.
func (s State) canSelectPatient() bool {
	return s == StateNoPatient || s == StatePatientSelected
}

func (s State) canAttachImage() bool {
	return s == StatePatientSelected || s == StateImageCaptured || s.hasResult()
}

func (s State) canSaveNote() bool {
	return s.hasResult()
}

// hasResult reports whether the visit holds a classification, with or
// without a saved note.
func (s State) hasResult() bool {
	return s == StateResultReady || s == StateNoteSaved
}
