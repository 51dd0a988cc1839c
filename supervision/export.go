package supervision

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
	"github.com/theimaginaryfoundation/emotions-bot/emotion/fileutils"
)

// ChatMessage is one turn of a chat fine-tuning example.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FineTuneExample is one line of an OpenAI chat fine-tuning JSONL file.
type FineTuneExample struct {
	Messages []ChatMessage `json:"messages"`
}

// ExportOptions controls BuildFineTuneExamples.
type ExportOptions struct {
	// Instructions becomes the system message of every example.
	Instructions string
	// Labels, when set, drops confirmed labels outside the set. Rows left with
	// no label are skipped.
	Labels []string
}

// BuildFineTuneExamples turns supervision rows into training examples. The
// user-confirmed labels become the assistant answer, each with accuracy 1.
// Rows with no confirmed label are skipped.
func BuildFineTuneExamples(rows [][]string, opt ExportOptions) ([]FineTuneExample, error) {
	allowed := map[string]string{}
	for _, l := range opt.Labels {
		allowed[strings.ToLower(strings.TrimSpace(l))] = l
	}

	out := make([]FineTuneExample, 0, len(rows))
	for _, row := range rows {
		if len(row) != len(Header) {
			continue
		}
		text := strings.TrimSpace(row[5])
		if text == "" {
			continue
		}

		answer := emotion.ClassifierAnswer{Sentiments: []emotion.ClassifierSentiment{}}
		for _, l := range splitLabels(row[7]) {
			if len(allowed) > 0 {
				canonical, ok := allowed[l]
				if !ok {
					continue
				}
				l = canonical
			}
			answer.Sentiments = append(answer.Sentiments, emotion.ClassifierSentiment{Sentiment: l, Accuracy: 1})
		}
		if len(answer.Sentiments) == 0 {
			continue
		}

		b, err := json.Marshal(answer)
		if err != nil {
			return nil, err
		}
		ex := FineTuneExample{}
		if opt.Instructions != "" {
			ex.Messages = append(ex.Messages, ChatMessage{Role: "system", Content: opt.Instructions})
		}
		ex.Messages = append(ex.Messages,
			ChatMessage{Role: "user", Content: text},
			ChatMessage{Role: "assistant", Content: string(b)},
		)
		out = append(out, ex)
	}
	return out, nil
}

// WriteFineTuneJSONL writes examples as JSONL, atomically.
func WriteFineTuneJSONL(path string, examples []FineTuneExample, overwrite bool) error {
	if path == "" {
		return errors.New("WriteFineTuneJSONL: path is empty")
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("WriteFineTuneJSONL: file exists: %s", path)
		}
	}

	var b strings.Builder
	for _, ex := range examples {
		line, err := json.Marshal(ex)
		if err != nil {
			return err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return fileutils.WriteFileAtomic(path, []byte(b.String()), 0o644)
}
