package emotion

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/theimaginaryfoundation/emotions-bot/emotion/fileutils"
)

// ClassifierAnswer is the JSON shape the model is instructed to answer with.
type ClassifierAnswer struct {
	Sentiments []ClassifierSentiment `json:"sentiments" jsonschema:"required"`
}

// ClassifierSentiment is one entry of ClassifierAnswer.
type ClassifierSentiment struct {
	Sentiment string  `json:"sentiment" jsonschema:"required"`
	Accuracy  float64 `json:"accuracy" jsonschema:"required"`
}

// ParseClassifierOutput validates raw model output once and returns it ranked.
//
// Output with no JSON object at all is the model declining to answer ("idk")
// and yields an empty ranking. Blank output, undecodable JSON and out-of-range
// scores are MalformedResponse errors.
func ParseClassifierOutput(outputText string) (Ranking, error) {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return nil, Malformed(errors.New("empty model output"))
	}
	if !strings.Contains(s, "{") {
		return Ranking{}, nil
	}

	var answer ClassifierAnswer
	if err := fileutils.DecodeModelJSON(s, &answer); err != nil {
		return nil, Malformed(err)
	}

	raw := make([]Prediction, 0, len(answer.Sentiments))
	for i, cs := range answer.Sentiments {
		label := strings.TrimSpace(cs.Sentiment)
		if label == "" {
			return nil, Malformed(fmt.Errorf("sentiments[%d]: empty label", i))
		}
		if math.IsNaN(cs.Accuracy) || cs.Accuracy < 0 || cs.Accuracy > 1 {
			return nil, Malformed(fmt.Errorf("sentiments[%d]: accuracy %v out of [0,1]", i, cs.Accuracy))
		}
		raw = append(raw, Prediction{Label: label, Confidence: cs.Accuracy})
	}
	return Rank(raw), nil
}
