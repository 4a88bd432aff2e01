package vision

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		raw        float64
		label      Label
		confidence float64
		isAI       bool
	}{
		{"confident ai", 0.9, LabelAIGenerated, 0.9, true},
		{"confident real", 0.1, LabelReal, 0.9, false},
		{"boundary is real", 0.5, LabelReal, 0.5, false},
		{"just above boundary", 0.5000001, LabelAIGenerated, 0.5, true},
		{"zero", 0, LabelReal, 1, false},
		{"one", 1, LabelAIGenerated, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.raw)
			assert.Equal(t, tt.label, got.Label)
			assert.Equal(t, tt.isAI, got.IsAI)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestDecideConfidenceBounds(t *testing.T) {
	prevDistance, prevConfidence := -1.0, 0.0
	for i := 0; i <= 5000; i++ {
		raw := 0.5 + float64(i)/10000
		for _, r := range []float64{raw, 1 - raw} {
			got := Decide(r)
			assert.GreaterOrEqual(t, got.Confidence, 0.5, "raw=%v", r)
			assert.LessOrEqual(t, got.Confidence, 1.0, "raw=%v", r)
		}

		distance := math.Abs(raw - 0.5)
		confidence := Decide(raw).Confidence
		if distance > prevDistance {
			assert.GreaterOrEqual(t, confidence, prevConfidence, "raw=%v", raw)
		}
		prevDistance, prevConfidence = distance, confidence
	}
}

func TestDecideRounding(t *testing.T) {
	got := Decide(0.876543)
	assert.Equal(t, 0.8765, got.RawScore)
	assert.Equal(t, 0.8765, got.Confidence)

	got = Decide(0.123456)
	assert.Equal(t, 0.1235, got.RawScore)
	assert.Equal(t, 0.8765, got.Confidence)
}

func TestPredictionResultJSON(t *testing.T) {
	body, err := json.Marshal(Decide(0.9))
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"AI Generated","confidence":0.9,"raw_score":0.9,"is_ai":true}`, string(body))

	body, err = json.Marshal(Decide(0.25))
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"Real Image","confidence":0.75,"raw_score":0.25,"is_ai":false}`, string(body))
}

func TestValidateScore(t *testing.T) {
	assert.NoError(t, ValidateScore(0))
	assert.NoError(t, ValidateScore(0.42))
	assert.NoError(t, ValidateScore(1))

	for _, bad := range []float32{-0.01, 1.01, float32(math.NaN()), float32(math.Inf(1))} {
		err := ValidateScore(bad)
		assert.ErrorIs(t, err, ErrInference, "score=%v", bad)
	}
}
