package dialog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
	"github.com/theimaginaryfoundation/emotions-bot/emotion/fileutils"
	"github.com/theimaginaryfoundation/emotions-bot/internal/logger"
	"github.com/theimaginaryfoundation/emotions-bot/supervision"
)

// Alerter reports operator-visible problems, e.g. to an admin chat.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Config wires an Engine.
type Config struct {
	Classifier emotion.Classifier
	Log        supervision.Appender
	Sessions   *SessionStore
	Logger     *logger.Logger
	// Threshold is the minimum confidence a prediction needs to be shown.
	Threshold float64
	Labels    []string
	// Alerter is optional.
	Alerter Alerter
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs the confirm/correct dialogue for every conversation.
type Engine struct {
	classifier emotion.Classifier
	log        supervision.Appender
	sessions   *SessionStore
	logger     *logger.Logger
	threshold  float64
	rules      Rules
	alerter    Alerter
	now        func() time.Time
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("dialog: classifier is nil")
	}
	if cfg.Log == nil {
		return nil, errors.New("dialog: supervision log is nil")
	}
	if math.IsNaN(cfg.Threshold) || cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("dialog: threshold %v out of [0,1]", cfg.Threshold)
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = NewSessionStore()
	}
	lg := cfg.Logger
	if lg == nil {
		lg = logger.Nop()
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = emotion.DefaultLabels
	}
	for _, l := range labels {
		if IsReservedChoice(l) {
			return nil, fmt.Errorf("dialog: label %q collides with a control choice", l)
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		classifier: cfg.Classifier,
		log:        cfg.Log,
		sessions:   sessions,
		logger:     lg,
		threshold:  cfg.Threshold,
		rules:      Rules{Labels: labels},
		alerter:    cfg.Alerter,
		now:        now,
	}, nil
}

// IsReservedChoice reports whether s matches, ignoring case, one of the
// callback values the correction keyboard uses for its control buttons.
func IsReservedChoice(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ChoiceYes, ChoiceNo, ChoiceOther, ChoiceCancel:
		return true
	}
	return false
}

// Sessions exposes the store, mainly for diagnostics and tests.
func (e *Engine) Sessions() *SessionStore { return e.sessions }

// Handle processes one inbound event and returns the reply to send. Events for
// the same conversation are handled one at a time.
func (e *Engine) Handle(ctx context.Context, ev Event) Reply {
	var reply Reply
	e.sessions.Update(ev.ConversationID, func(sess *Session) {
		reply = e.handleLocked(ctx, sess, ev)
	})
	return reply
}

func (e *Engine) handleLocked(ctx context.Context, sess *Session, ev Event) Reply {
	from := sess.State
	d := e.rules.Step(from, ev)
	lg := e.logger.With("chat_id", ev.ConversationID, "state", from.String(), "action", d.Action.String())

	switch d.Action {
	case ActionIgnore:
		lg.Debug("event ignored", "kind", int(ev.Kind))
		return Reply{}

	case ActionReply:
		sess.State = d.Next
		if d.Next == Idle {
			resetEpisode(sess)
		}
		return Reply{Handled: true, Text: d.Text, Choices: d.Choices}

	case ActionAnalyzeUnsupervised:
		lg.Info("analyze command", "username", ev.SenderUsername, "text", fileutils.Truncate(fileutils.SanitizeNewlines(d.Value), 200))
		_, filtered, err := e.analyze(ctx, d.Value)
		if err != nil {
			lg.Warn("classifier failed", "error", err.Error())
			return Reply{Handled: true, Text: textClassifierFailed}
		}
		return Reply{Handled: true, Text: emotion.Summarize(filtered), Markdown: true}

	case ActionAnalyze:
		lg.Info("analyze text", "username", ev.SenderUsername, "text", fileutils.Truncate(fileutils.SanitizeNewlines(d.Value), 200))
		ranking, filtered, err := e.analyze(ctx, d.Value)
		if err != nil {
			// state and the previous episode are left untouched
			lg.Warn("classifier failed", "error", err.Error())
			return Reply{Handled: true, Text: textClassifierFailed}
		}
		sess.LastText = d.Value
		sess.LastRanking = ranking
		sess.EmptyPrediction = len(filtered) == 0
		question := textConfirmQuestion
		sess.State = AwaitingConfirmation
		if sess.EmptyPrediction {
			question = textHelpQuestion
			sess.State = AwaitingConfirmationEmpty
		}
		return Reply{
			Handled:  true,
			Text:     emotion.Summarize(filtered) + question,
			Markdown: true,
			Choices:  ConfirmChoices(),
		}

	case ActionRecordPredicted:
		confirmed := emotion.JoinLabels(emotion.Filter(sess.LastRanking, e.threshold))
		e.record(ctx, lg, *sess, ev, confirmed)
		sess.State = d.Next
		resetEpisode(sess)
		return Reply{Handled: true, Text: d.Text}

	case ActionRecordValue:
		e.record(ctx, lg, *sess, ev, d.Value)
		sess.State = d.Next
		resetEpisode(sess)
		return Reply{Handled: true, Text: d.Text}
	}
	return Reply{}
}

func (e *Engine) analyze(ctx context.Context, text string) (emotion.Ranking, emotion.Ranking, error) {
	ranking, err := e.classifier.Classify(ctx, text)
	if err != nil {
		return nil, nil, err
	}
	ranking = emotion.Rank(ranking)
	return ranking, emotion.Filter(ranking, e.threshold), nil
}

// record appends the supervision record for the episode held in sess. A
// failed append is logged and alerted but never changes the user-facing reply.
// The session has already moved on, so the write ignores cancellation of ctx.
func (e *Engine) record(ctx context.Context, lg *logger.Logger, sess Session, ev Event, confirmed string) {
	ctx = context.WithoutCancel(ctx)
	predicted := ""
	if !sess.EmptyPrediction {
		raw, err := supervision.EncodeRanking(sess.LastRanking)
		if err != nil {
			lg.Error("encode ranking", "error", err.Error())
		}
		predicted = raw
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	rec := supervision.Record{
		Timestamp:          ts,
		UserID:             ev.SenderID,
		Username:           ev.SenderUsername,
		DisplayName:        ev.SenderDisplayName,
		ConversationID:     ev.ConversationID,
		OriginalText:       sess.LastText,
		PredictedLabelsRaw: predicted,
		ConfirmedLabels:    confirmed,
	}
	if err := e.log.Append(ctx, rec); err != nil {
		lg.Error("supervision append failed",
			"error", err.Error(),
			"user_id", rec.UserID,
			"text", rec.OriginalText,
			"predicted", rec.PredictedLabelsRaw,
			"confirmed", rec.ConfirmedLabels,
		)
		if e.alerter != nil {
			msg := fmt.Sprintf("supervision record lost for chat %d: %v", rec.ConversationID, err)
			if aerr := e.alerter.Alert(ctx, msg); aerr != nil {
				lg.Error("alert failed", "error", aerr.Error())
			}
		}
		return
	}
	lg.Info("supervision record written", "confirmed", confirmed, "empty_prediction", sess.EmptyPrediction)
}

func resetEpisode(sess *Session) {
	sess.LastText = ""
	sess.LastRanking = nil
	sess.EmptyPrediction = false
}
