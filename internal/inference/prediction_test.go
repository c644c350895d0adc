package inference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbabilitiesPreserveOrder(t *testing.T) {
	var p Prediction
	require.NoError(t, json.Unmarshal([]byte(`{"prediction":"Benign","probabilities":{"Benign":60.0,"Melanoma":30.5,"NonSkin":9.5}}`), &p))

	require.Len(t, p.Probabilities, 3)
	assert.Equal(t, "Benign", p.Probabilities[0].Label)
	assert.Equal(t, "Melanoma", p.Probabilities[1].Label)
	assert.Equal(t, "NonSkin", p.Probabilities[2].Label)
	assert.InDelta(t, 30.5, p.Probabilities[1].Probability, 1e-9)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prediction":"Benign","probabilities":{"Benign":60,"Melanoma":30.5,"NonSkin":9.5}}`, string(out))
	assert.Contains(t, string(out), `{"Benign":60,"Melanoma":30.5,"NonSkin":9.5}`)
}

func TestProbabilitiesRejectMalformed(t *testing.T) {
	tests := map[string]string{
		"array":      `{"prediction":"x","probabilities":[1,2]}`,
		"string val": `{"prediction":"x","probabilities":{"Benign":"high"}}`,
		"truncated":  `{"prediction":"x","probabilities":{"Benign":1`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			var p Prediction
			assert.Error(t, json.Unmarshal([]byte(body), &p))
		})
	}
}

func TestBest(t *testing.T) {
	tests := []struct {
		name  string
		probs Probabilities
		want  string
		ok    bool
	}{
		{"single", Probabilities{{"Benign", 99}}, "Benign", true},
		{"highest wins", Probabilities{{"Benign", 12.5}, {"Melanoma", 87.5}}, "Melanoma", true},
		{"tie goes to first", Probabilities{{"Melanoma", 50}, {"Benign", 50}}, "Melanoma", true},
		{"tie after lower", Probabilities{{"NonSkin", 10}, {"Benign", 45}, {"Melanoma", 45}}, "Benign", true},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Prediction{Probabilities: tt.probs}
			best, ok := p.Best()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, best.Label)
		})
	}
}

func TestRoundConfidence(t *testing.T) {
	assert.InDelta(t, 87.5, RoundConfidence(87.5), 1e-9)
	assert.InDelta(t, 33.33, RoundConfidence(33.3333), 1e-9)
	assert.InDelta(t, 66.67, RoundConfidence(66.6666), 1e-9)
	assert.InDelta(t, 100.0, RoundConfidence(99.999), 1e-9)
}

func TestScaled(t *testing.T) {
	p := Probabilities{{"Benign", 0.125}, {"Melanoma", 0.875}}
	s := p.Scaled(100)
	assert.InDelta(t, 87.5, s[1].Probability, 1e-9)
	assert.InDelta(t, 0.875, p[1].Probability, 1e-9)
}

func TestVocabulary(t *testing.T) {
	v := DefaultVocabulary()
	assert.Equal(t, OutcomeMelanoma, v.Classify("Melanoma"))
	assert.Equal(t, OutcomeMelanoma, v.Classify(" melanoma "))
	assert.Equal(t, OutcomeNonSkin, v.Classify("NONSKIN"))
	assert.Equal(t, OutcomeBenign, v.Classify("Benign"))
	assert.Equal(t, OutcomeBenign, v.Classify("Nevus"))

	custom := NewVocabulary([]string{"MEL"}, []string{"not_skin", "other"})
	assert.Equal(t, OutcomeMelanoma, custom.Classify("mel"))
	assert.Equal(t, OutcomeNonSkin, custom.Classify("Other"))
	assert.Equal(t, OutcomeBenign, custom.Classify("Melanoma"))
}

func TestOutcomeRules(t *testing.T) {
	for _, o := range []Outcome{OutcomeBenign, OutcomeMelanoma, OutcomeNonSkin} {
		assert.True(t, o.AllowsNote(), o.String())
	}
	assert.True(t, OutcomeNonSkin.AllowsRetake())
	assert.False(t, OutcomeBenign.AllowsRetake())
	assert.False(t, OutcomeMelanoma.AllowsRetake())

	text, err := OutcomeMelanoma.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "melanoma", string(text))
	assert.Equal(t, "outcome(9)", Outcome(9).String())

	var back Outcome
	require.NoError(t, back.UnmarshalText([]byte("nonskin")))
	assert.Equal(t, OutcomeNonSkin, back)
	assert.Error(t, back.UnmarshalText([]byte("unknown")))
}

func TestVerdict(t *testing.T) {
	tests := []struct {
		name  string
		label string
		probs Probabilities
		want  string
	}{
		{"reported label wins", "NonSkin", Probabilities{{"Benign", 55.5}, {"Melanoma", 44.5}}, "NonSkin"},
		{"matches best", "Melanoma", Probabilities{{"Melanoma", 87.5}, {"Benign", 12.5}}, "Melanoma"},
		{"blank falls back to best", "  ", Probabilities{{"Benign", 20}, {"Melanoma", 80}}, "Melanoma"},
		{"empty response", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Prediction{Label: tt.label, Probabilities: tt.probs}
			assert.Equal(t, tt.want, p.Verdict())
		})
	}
}
