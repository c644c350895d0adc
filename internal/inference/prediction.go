package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ClassProbability is one entry of the classifier's probability mapping.
type ClassProbability struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Probabilities keeps the classifier's mapping in response order.
type Probabilities []ClassProbability

// UnmarshalJSON decodes a JSON object while preserving key order, which
// decides ties in Best.
func (p *Probabilities) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("probabilities must be a JSON object")
	}

	out := Probabilities{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("probabilities key must be a string")
		}

		var num json.Number
		if err := dec.Decode(&num); err != nil {
			return fmt.Errorf("probability for %q is not a number: %w", key, err)
		}
		value, err := num.Float64()
		if err != nil {
			return fmt.Errorf("probability for %q is not a number: %w", key, err)
		}
		out = append(out, ClassProbability{Label: key, Probability: value})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// MarshalJSON writes the mapping back as an object in the same order.
func (p Probabilities) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, cp := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(cp.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(cp.Probability)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Scaled returns a copy with every probability multiplied by factor.
func (p Probabilities) Scaled(factor float64) Probabilities {
	out := make(Probabilities, len(p))
	for i, cp := range p {
		out[i] = ClassProbability{Label: cp.Label, Probability: cp.Probability * factor}
	}
	return out
}

// Prediction is the decoded classifier response.
type Prediction struct {
	Label         string        `json:"prediction"`
	Probabilities Probabilities `json:"probabilities"`
}

// Best returns the entry with the highest probability. Ties go to the entry
// that appears first. ok is false when the mapping is empty.
func (p *Prediction) Best() (best ClassProbability, ok bool) {
	for i, cp := range p.Probabilities {
		if i == 0 || cp.Probability > best.Probability {
			best = cp
		}
	}
	return best, len(p.Probabilities) > 0
}

// Verdict returns the label the classifier reported. Responses without one
// fall back to the highest-probability entry.
func (p *Prediction) Verdict() string {
	if label := strings.TrimSpace(p.Label); label != "" {
		return label
	}
	best, _ := p.Best()
	return best.Label
}

// RoundConfidence rounds a 0-100 confidence to two decimals.
func RoundConfidence(v float64) float64 {
	return math.Round(v*100) / 100
}
