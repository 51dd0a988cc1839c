package emotion

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	nothingRecognizedMessage = "Non sono riuscito ad individuare quali emozioni contiene questa frase..."
	recognizedHeader         = "Ho riconosciuto le seguenti emozioni:"
)

// Rank returns a copy of raw sorted by descending confidence. Ties keep the
// classifier's original order.
func Rank(raw []Prediction) Ranking {
	out := make(Ranking, len(raw))
	copy(out, raw)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Filter keeps the entries whose confidence is at least threshold, preserving order.
func Filter(r Ranking, threshold float64) Ranking {
	out := make(Ranking, 0, len(r))
	for _, p := range r {
		if p.Confidence >= threshold {
			out = append(out, p)
		}
	}
	return out
}

// Summarize renders a filtered ranking for the user, one line per emotion.
// Labels and percentages use Markdown code spans.
func Summarize(filtered Ranking) string {
	if len(filtered) == 0 {
		return nothingRecognizedMessage + "\n"
	}
	var b strings.Builder
	b.WriteString(recognizedHeader)
	b.WriteByte('\n')
	for _, p := range filtered {
		b.WriteString("`")
		b.WriteString(p.Label)
		b.WriteString("` con un'accuratezza del `")
		b.WriteString(FormatPercent(p.Confidence))
		b.WriteString("%`\n")
	}
	return b.String()
}

// JoinLabels joins the ranking's labels with ", ".
func JoinLabels(r Ranking) string {
	return strings.Join(r.Labels(), ", ")
}

// FormatPercent renders round(confidence, 4) * 100 with at least one decimal,
// e.g. 0.82 -> "82.0", 0.12345 -> "12.35".
func FormatPercent(confidence float64) string {
	// round to 4 decimals of the 0..1 score, i.e. 2 decimals of the percentage
	pct := math.Round(confidence*10000) / 100
	s := strconv.FormatFloat(pct, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
