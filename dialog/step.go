package dialog

import (
	"strings"
	"unicode"
)

// Action is the side effect a Decision asks the engine to perform.
type Action int

const (
	// ActionIgnore drops the event: no state change, no reply.
	ActionIgnore Action = iota
	// ActionReply sends a fixed reply and moves to Decision.Next.
	ActionReply
	// ActionAnalyze classifies the event text and enters the supervised flow.
	ActionAnalyze
	// ActionAnalyzeUnsupervised classifies the command argument and only replies.
	ActionAnalyzeUnsupervised
	// ActionRecordPredicted writes a record confirming the shown labels.
	ActionRecordPredicted
	// ActionRecordValue writes a record with Decision.Value as the true labels.
	ActionRecordValue
)

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionReply:
		return "reply"
	case ActionAnalyze:
		return "analyze"
	case ActionAnalyzeUnsupervised:
		return "analyze_unsupervised"
	case ActionRecordPredicted:
		return "record_predicted"
	case ActionRecordValue:
		return "record_value"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Step. For ActionAnalyze the final state depends on
// the classifier result and Next is left at the current state.
type Decision struct {
	Next    State
	Action  Action
	Text    string
	Choices []Choice
	// Value is the text to analyze or the labels to record.
	Value string
}

// Rules holds what Step needs besides the state and the event.
type Rules struct {
	// Labels is the fixed label set offered during correction.
	Labels []string
}

var affirmativeTokens = map[string]struct{}{
	"sì": {}, "si": {}, "yes": {}, "y": {}, "ok": {}, "certo": {}, "esatto": {}, "giusto": {}, "corretto": {},
}

var negativeTokens = map[string]struct{}{
	"no": {}, "n": {}, "nope": {}, "sbagliato": {}, "errato": {},
}

const (
	cmdStart    = "start"
	cmdInfo     = "info"
	cmdHelp     = "help"
	cmdAnalyze  = "analizza"
	cmdAnalyzeE = "analyze"
	cmdCancel   = "annulla"
	cmdCancelE  = "cancel"
)

// Step is the dialog transition function. It is pure: the engine performs the
// returned action.
func (r Rules) Step(state State, ev Event) Decision {
	stay := Decision{Next: state, Action: ActionIgnore}

	if ev.Kind == CommandEvent {
		return r.stepCommand(state, ev)
	}
	if ev.Kind == ChoiceEvent && ev.Choice == ChoiceCancel && state != Idle {
		return Decision{Next: Idle, Action: ActionReply, Text: textCancelled}
	}

	switch state {
	case Idle:
		if ev.Kind == TextEvent && strings.TrimSpace(ev.Text) != "" {
			return Decision{Next: Idle, Action: ActionAnalyze, Value: strings.TrimSpace(ev.Text)}
		}
		return stay

	case AwaitingConfirmation:
		yes, explicitNo, ok := answerOf(ev)
		if !ok {
			return stay
		}
		if yes {
			return Decision{Next: Idle, Action: ActionRecordPredicted, Text: textThanksConfirmed}
		}
		text := textAskCorrection
		if !explicitNo {
			text = textAssumeNo + text
		}
		return Decision{Next: AwaitingCorrection, Action: ActionReply, Text: text, Choices: CorrectionChoices(r.Labels)}

	case AwaitingConfirmationEmpty:
		yes, explicitNo, ok := answerOf(ev)
		if !ok {
			return stay
		}
		if yes {
			return Decision{Next: AwaitingCorrectionEmpty, Action: ActionReply, Text: textAskCorrectionEmpty, Choices: CorrectionChoices(r.Labels)}
		}
		if explicitNo {
			return Decision{Next: Idle, Action: ActionReply, Text: textDeclinedEmpty}
		}
		return Decision{Next: Idle, Action: ActionReply, Text: textDeclinedEmptyAmbiguous}

	case AwaitingCorrection, AwaitingCorrectionEmpty:
		switch ev.Kind {
		case ChoiceEvent:
			if ev.Choice == ChoiceOther {
				return Decision{Next: AwaitingFreeformCorrection, Action: ActionReply, Text: textAskFreeform}
			}
			if r.isLabel(ev.Choice) {
				return Decision{Next: Idle, Action: ActionRecordValue, Text: textThanks, Value: ev.Choice}
			}
		case TextEvent:
			v := strings.TrimSpace(ev.Text)
			if l, ok := r.matchLabel(v); ok {
				return Decision{Next: Idle, Action: ActionRecordValue, Text: textThanks, Value: l}
			}
			if v != "" {
				// not a choice: start over with a fresh analysis
				return Decision{Next: state, Action: ActionAnalyze, Value: v}
			}
		}
		return stay

	case AwaitingFreeformCorrection:
		if ev.Kind == TextEvent {
			if v := strings.TrimSpace(ev.Text); v != "" {
				return Decision{Next: Idle, Action: ActionRecordValue, Text: textThanks, Value: v}
			}
		}
		return stay
	}
	return stay
}

func (r Rules) stepCommand(state State, ev Event) Decision {
	switch NormalizeCommand(ev.Command) {
	case cmdStart:
		return Decision{Next: state, Action: ActionReply, Text: textWelcome}
	case cmdInfo, cmdHelp:
		return Decision{Next: state, Action: ActionReply, Text: textInfo}
	case cmdAnalyze, cmdAnalyzeE:
		args := strings.TrimSpace(ev.Args)
		if args == "" {
			return Decision{Next: state, Action: ActionReply, Text: textAnalyzeUsage}
		}
		return Decision{Next: state, Action: ActionAnalyzeUnsupervised, Value: args}
	case cmdCancel, cmdCancelE:
		if state == Idle {
			return Decision{Next: Idle, Action: ActionIgnore}
		}
		return Decision{Next: Idle, Action: ActionReply, Text: textCancelled}
	}
	return Decision{Next: state, Action: ActionIgnore}
}

func (r Rules) isLabel(v string) bool {
	for _, l := range r.Labels {
		if l == v {
			return true
		}
	}
	return false
}

// matchLabel finds the label typed by hand, ignoring case.
func (r Rules) matchLabel(v string) (string, bool) {
	if v == "" {
		return "", false
	}
	for _, l := range r.Labels {
		if strings.EqualFold(l, v) {
			return l, true
		}
	}
	return "", false
}

// NormalizeCommand strips a leading slash and a "@botname" suffix and lower-cases.
func NormalizeCommand(cmd string) string {
	cmd = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cmd), "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

// answerOf reads a yes/no answer from a text or choice event. Anything without
// an affirmative token counts as no; explicitNo tells a clear "no" apart from
// an ambiguous answer. ok is false for events that cannot carry an answer.
func answerOf(ev Event) (yes, explicitNo, ok bool) {
	switch ev.Kind {
	case ChoiceEvent:
		switch ev.Choice {
		case ChoiceYes:
			return true, false, true
		case ChoiceNo:
			return false, true, true
		default:
			return false, false, true
		}
	case TextEvent:
		if strings.TrimSpace(ev.Text) == "" {
			return false, false, false
		}
		return IsAffirmative(ev.Text), hasToken(ev.Text, negativeTokens), true
	}
	return false, false, false
}

// IsAffirmative reports whether text contains an affirmative word token.
func IsAffirmative(text string) bool {
	return hasToken(text, affirmativeTokens)
}

func hasToken(text string, set map[string]struct{}) bool {
	for _, tok := range tokenize(text) {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
