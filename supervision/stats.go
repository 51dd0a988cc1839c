package supervision

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
)

// Stats summarizes a supervision file.
type Stats struct {
	Records int `json:"records"`
	// Confirmed counts episodes where the user accepted the shown prediction verbatim.
	Confirmed int `json:"confirmed"`
	Corrected int `json:"corrected"`
	// NoPrediction counts episodes that started from an empty ranking.
	NoPrediction int `json:"no_prediction"`
	// LabelCounts tallies user-confirmed labels, lower-cased.
	LabelCounts map[string]int `json:"label_counts"`
}

// ReadStats loads the supervision file at path and tallies it.
func ReadStats(path string) (Stats, error) {
	rows, err := ReadAll(path)
	if err != nil {
		return Stats{}, err
	}
	return Tally(rows), nil
}

// Tally computes Stats from data rows in Header order.
func Tally(rows [][]string) Stats {
	st := Stats{LabelCounts: map[string]int{}}
	for _, row := range rows {
		if len(row) != len(Header) {
			continue
		}
		st.Records++
		predictedRaw, confirmed := row[6], row[7]
		for _, l := range splitLabels(confirmed) {
			st.LabelCounts[l]++
		}
		if predictedRaw == "" {
			st.NoPrediction++
			continue
		}
		var predicted emotion.Ranking
		if err := json.Unmarshal([]byte(predictedRaw), &predicted); err != nil {
			st.Corrected++
			continue
		}
		if sameLabels(predicted, splitLabels(confirmed)) {
			st.Confirmed++
		} else {
			st.Corrected++
		}
	}
	return st
}

// sameLabels reports whether confirmed is a non-empty prefix of the ranking's
// labels, which is what a verbatim confirmation of the filtered ranking looks like.
func sameLabels(predicted emotion.Ranking, confirmed []string) bool {
	if len(confirmed) == 0 || len(confirmed) > len(predicted) {
		return false
	}
	for i, l := range confirmed {
		if strings.ToLower(predicted[i].Label) != l {
			return false
		}
	}
	return true
}

func splitLabels(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TopLabels returns label names ordered by count desc, then name.
func (s Stats) TopLabels() []string {
	out := make([]string, 0, len(s.LabelCounts))
	for l := range s.LabelCounts {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if s.LabelCounts[out[i]] != s.LabelCounts[out[j]] {
			return s.LabelCounts[out[i]] > s.LabelCounts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
