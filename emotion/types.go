package emotion

import "context"

// Prediction is one (label, confidence) pair produced by the classifier.
// Confidence is the raw 0..1 score.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Ranking is an ordered list of predictions for one analyzed utterance,
// sorted by descending confidence (stable on ties).
type Ranking []Prediction

// Labels returns the label of each prediction, in ranking order.
func (r Ranking) Labels() []string {
	if len(r) == 0 {
		return nil
	}
	out := make([]string, 0, len(r))
	for _, p := range r {
		out = append(out, p.Label)
	}
	return out
}

// Classifier asks an external model for the most probable emotions in text.
// Implementations return a ranked list or a *ClassifierError.
type Classifier interface {
	Classify(ctx context.Context, text string) (Ranking, error)
}

// DefaultLabels is the emotion set the hosted model was fine-tuned on.
var DefaultLabels = []string{"gioia", "vergogna", "colpevolezza", "paura", "rabbia", "tristezza"}
