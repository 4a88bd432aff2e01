package vision

import "math"

const (
	decisionThreshold = 0.5
	reportScale       = 1e4 // 4 decimal places
)

type Label int

const (
	LabelReal Label = iota
	LabelAIGenerated
)

func (l Label) String() string {
	if l == LabelAIGenerated {
		return "AI Generated"
	}
	return "Real Image"
}

func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// PredictionResult is the classification outcome returned to clients.
type PredictionResult struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	RawScore   float64 `json:"raw_score"`
	IsAI       bool    `json:"is_ai"`
}

// Decide maps a raw sigmoid score in [0,1] to a label and confidence. A score of
// exactly 0.5 is Real. Reported values are rounded; the decision uses the exact score.
func Decide(raw float64) PredictionResult {
	isAI := raw > decisionThreshold
	label := LabelReal
	confidence := 1 - raw
	if isAI {
		label = LabelAIGenerated
		confidence = raw
	}
	return PredictionResult{
		Label:      label,
		Confidence: round(confidence),
		RawScore:   round(raw),
		IsAI:       isAI,
	}
}

func round(v float64) float64 {
	return math.Round(v*reportScale) / reportScale
}
