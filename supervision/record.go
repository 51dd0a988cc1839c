package supervision

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
)

// Header is the fixed first row of the supervision log.
var Header = []string{"datetime", "user_id", "username", "name", "chat_id", "text", "predicted_sentiments", "real_sentiments"}

const timestampLayout = "2006-01-02 15:04:05"

// Record is one completed feedback episode: what was predicted for a text and
// what the user said was true. Records are written once and never modified.
type Record struct {
	Timestamp      time.Time
	UserID         int64
	Username       string
	DisplayName    string
	ConversationID int64
	OriginalText   string
	// PredictedLabelsRaw is the serialized ranking, empty on the no-prediction path.
	PredictedLabelsRaw string
	ConfirmedLabels    string
}

// Appender persists supervision records.
type Appender interface {
	Append(ctx context.Context, rec Record) error
}

// EncodeRanking serializes a ranking for PredictedLabelsRaw. An empty ranking encodes to "".
func EncodeRanking(r emotion.Ranking) (string, error) {
	if len(r) == 0 {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Row renders the record in Header column order.
func (r Record) Row() []string {
	return []string{
		r.Timestamp.Local().Format(timestampLayout),
		strconv.FormatInt(r.UserID, 10),
		r.Username,
		r.DisplayName,
		strconv.FormatInt(r.ConversationID, 10),
		r.OriginalText,
		r.PredictedLabelsRaw,
		r.ConfirmedLabels,
	}
}
