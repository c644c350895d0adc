package inference

import (
	"fmt"
	"strings"
)

// Outcome is the closed set of clinical result kinds. Every switch over an
// Outcome must handle all three values.
type Outcome int

const (
	OutcomeBenign Outcome = iota
	OutcomeMelanoma
	OutcomeNonSkin
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBenign:
		return "benign"
	case OutcomeMelanoma:
		return "melanoma"
	case OutcomeNonSkin:
		return "nonskin"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText renders the outcome for JSON responses and events.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name produced by MarshalText.
func (o *Outcome) UnmarshalText(text []byte) error {
	for _, candidate := range []Outcome{OutcomeBenign, OutcomeMelanoma, OutcomeNonSkin} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// AllowsNote reports whether a clinical note may be attached.
// Non-skin results are kept and annotatable too.
func (o Outcome) AllowsNote() bool {
	switch o {
	case OutcomeBenign, OutcomeMelanoma, OutcomeNonSkin:
		return true
	default:
		return false
	}
}

// AllowsRetake reports whether the visit may discard the image and capture again.
func (o Outcome) AllowsRetake() bool {
	switch o {
	case OutcomeNonSkin:
		return true
	case OutcomeBenign, OutcomeMelanoma:
		return false
	default:
		return false
	}
}

// Vocabulary maps classifier labels onto outcomes. Labels are compared
// case-insensitively; anything not listed is benign.
type Vocabulary struct {
	melanoma map[string]struct{}
	nonSkin  map[string]struct{}
}

// NewVocabulary builds a label vocabulary.
func NewVocabulary(melanoma, nonSkin []string) Vocabulary {
	v := Vocabulary{
		melanoma: make(map[string]struct{}, len(melanoma)),
		nonSkin:  make(map[string]struct{}, len(nonSkin)),
	}
	for _, l := range melanoma {
		v.melanoma[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	for _, l := range nonSkin {
		v.nonSkin[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return v
}

// DefaultVocabulary recognises "Melanoma" and "NonSkin".
func DefaultVocabulary() Vocabulary {
	return NewVocabulary([]string{"Melanoma"}, []string{"NonSkin"})
}

// Classify maps a label to its outcome.
func (v Vocabulary) Classify(label string) Outcome {
	key := strings.ToLower(strings.TrimSpace(label))
	if _, ok := v.nonSkin[key]; ok {
		return OutcomeNonSkin
	}
	if _, ok := v.melanoma[key]; ok {
		return OutcomeMelanoma
	}
	return OutcomeBenign
}

// IsZero reports whether the vocabulary was never built.
func (v Vocabulary) IsZero() bool {
	return v.melanoma == nil && v.nonSkin == nil
}
