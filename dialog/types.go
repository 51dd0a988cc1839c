package dialog

import (
	"time"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
)

// State is where a conversation stands in the confirm/correct flow.
type State int

const (
	Idle State = iota
	// AwaitingConfirmation: predictions were shown, waiting for yes/no.
	AwaitingConfirmation
	// AwaitingConfirmationEmpty: nothing passed the threshold, asking whether the user wants to help anyway.
	AwaitingConfirmationEmpty
	// AwaitingCorrection: the prediction was rejected, collecting the true labels.
	AwaitingCorrection
	// AwaitingCorrectionEmpty: collecting the true labels after an empty prediction.
	AwaitingCorrectionEmpty
	// AwaitingFreeformCorrection: the user opted out of the fixed choice set.
	AwaitingFreeformCorrection
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case AwaitingConfirmationEmpty:
		return "awaiting_confirmation_empty"
	case AwaitingCorrection:
		return "awaiting_correction"
	case AwaitingCorrectionEmpty:
		return "awaiting_correction_empty"
	case AwaitingFreeformCorrection:
		return "awaiting_freeform_correction"
	default:
		return "unknown"
	}
}

// EventKind tags the shape of an inbound event.
type EventKind int

const (
	TextEvent EventKind = iota + 1
	CommandEvent
	ChoiceEvent
)

// Event is one inbound message from the transport. Which of Text, Command/Args
// or Choice is meaningful depends on Kind.
type Event struct {
	Kind EventKind

	ConversationID    int64
	SenderID          int64
	SenderUsername    string
	SenderDisplayName string
	Timestamp         time.Time

	Text string

	// Command is the command name without the leading slash, e.g. "analizza".
	Command string
	Args    string

	Choice string
}

// Choice is one selectable button.
type Choice struct {
	Value   string
	Caption string
}

// Reply is what the transport should send back. A zero Reply (Handled=false)
// means the event was ignored and nothing is sent.
type Reply struct {
	Handled  bool
	Text     string
	Markdown bool
	Choices  []Choice
}

// Session is the per-conversation record. It is only mutated by the Engine
// while it holds the conversation's lock.
type Session struct {
	ConversationID int64
	State          State
	LastText       string
	// LastRanking is the full ranked classifier output for LastText.
	LastRanking emotion.Ranking
	// EmptyPrediction is set when nothing in LastRanking passed the threshold.
	EmptyPrediction bool
}
