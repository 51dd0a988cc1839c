package dialog

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/theimaginaryfoundation/emotions-bot/emotion"
	"github.com/theimaginaryfoundation/emotions-bot/supervision"
)

type fakeClassifier struct {
	mu       sync.Mutex
	byText   map[string]emotion.Ranking
	err      error
	calls    int
	texts    []string
	onCall   func()
	fallback emotion.Ranking
}

func (f *fakeClassifier) Classify(_ context.Context, text string) (emotion.Ranking, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, text)
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.byText[text]; ok {
		return r, nil
	}
	return f.fallback, nil
}

type memLog struct {
	mu   sync.Mutex
	recs []supervision.Record
	err  error
}

func (m *memLog) Append(_ context.Context, rec supervision.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memLog) records() []supervision.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]supervision.Record(nil), m.recs...)
}

type fakeAlerter struct {
	mu   sync.Mutex
	msgs []string
}

func (a *fakeAlerter) Alert(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, text)
	return nil
}

var joyRanking = emotion.Ranking{{Label: "joy", Confidence: 0.82}, {Label: "fear", Confidence: 0.4}, {Label: "sadness", Confidence: 0.1}}

func newTestEngine(t *testing.T, c emotion.Classifier, log supervision.Appender) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		Classifier: c,
		Log:        log,
		Threshold:  0.5,
		Labels:     []string{"gioia", "paura", "rabbia", "tristezza"},
		Now:        func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func userText(chat int64, s string) Event {
	return Event{Kind: TextEvent, ConversationID: chat, SenderID: 42, SenderUsername: "mario", SenderDisplayName: "Mario Rossi", Text: s}
}

func userChoice(chat int64, v string) Event {
	return Event{Kind: ChoiceEvent, ConversationID: chat, SenderID: 42, SenderUsername: "mario", SenderDisplayName: "Mario Rossi", Choice: v}
}

func userCommand(chat int64, name, args string) Event {
	return Event{Kind: CommandEvent, ConversationID: chat, SenderID: 42, Command: name, Args: args}
}

func TestEngine_AnalyzeShowsFilteredSummaryAndAwaitsConfirmation(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: joyRanking}
	log := &memLog{}
	e := newTestEngine(t, c, log)

	reply := e.Handle(context.Background(), userText(1, "che bella giornata"))
	if !reply.Handled || !reply.Markdown {
		t.Fatalf("reply=%+v", reply)
	}
	if !strings.Contains(reply.Text, "joy") || !strings.Contains(reply.Text, "82.0%") {
		t.Fatalf("summary=%q", reply.Text)
	}
	if strings.Contains(reply.Text, "fear") {
		t.Fatalf("below-threshold label shown: %q", reply.Text)
	}
	if len(reply.Choices) != 2 || reply.Choices[0].Value != ChoiceYes {
		t.Fatalf("choices=%v", reply.Choices)
	}

	sess := e.Sessions().Get(1)
	if sess.State != AwaitingConfirmation {
		t.Fatalf("state=%s", sess.State)
	}
	if sess.LastText != "che bella giornata" || len(sess.LastRanking) != 3 {
		t.Fatalf("session=%+v", sess)
	}
	if len(log.records()) != 0 {
		t.Fatalf("no record expected yet")
	}
}

func TestEngine_AffirmativeWritesConfirmedRecord(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: joyRanking}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	e.Handle(ctx, userText(1, "che bella giornata"))
	reply := e.Handle(ctx, userChoice(1, ChoiceYes))
	if reply.Text != textThanksConfirmed {
		t.Fatalf("reply=%q", reply.Text)
	}

	recs := log.records()
	if len(recs) != 1 {
		t.Fatalf("records=%d", len(recs))
	}
	rec := recs[0]
	if rec.ConfirmedLabels != "joy" {
		t.Fatalf("ConfirmedLabels=%q", rec.ConfirmedLabels)
	}
	if rec.OriginalText != "che bella giornata" || rec.ConversationID != 1 || rec.UserID != 42 || rec.DisplayName != "Mario Rossi" {
		t.Fatalf("record=%+v", rec)
	}
	if !strings.Contains(rec.PredictedLabelsRaw, `"joy"`) || !strings.Contains(rec.PredictedLabelsRaw, `"sadness"`) {
		t.Fatalf("PredictedLabelsRaw=%q", rec.PredictedLabelsRaw)
	}
	if rec.Timestamp.IsZero() {
		t.Fatalf("timestamp not set")
	}
	if s := e.Sessions().Get(1); s.State != Idle || s.LastText != "" {
		t.Fatalf("session=%+v", s)
	}
}

func TestEngine_EmptyPredictionDeclinedWritesNothing(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: emotion.Ranking{{Label: "paura", Confidence: 0.2}}}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	reply := e.Handle(ctx, userText(1, "mmm"))
	if !strings.Contains(reply.Text, textHelpQuestion) {
		t.Fatalf("reply=%q", reply.Text)
	}
	if s := e.Sessions().Get(1); s.State != AwaitingConfirmationEmpty {
		t.Fatalf("state=%s", s.State)
	}

	e.Handle(ctx, userText(1, "no"))
	if s := e.Sessions().Get(1); s.State != Idle {
		t.Fatalf("state=%s", s.State)
	}
	if len(log.records()) != 0 {
		t.Fatalf("records=%v", log.records())
	}
}

func TestEngine_EmptyPredictionHelpedHasEmptyPredictedColumn(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: emotion.Ranking{}}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	e.Handle(ctx, userText(1, "asdf"))
	reply := e.Handle(ctx, userText(1, "sì"))
	if s := e.Sessions().Get(1); s.State != AwaitingCorrectionEmpty {
		t.Fatalf("state=%s", s.State)
	}
	if len(reply.Choices) != 6 {
		t.Fatalf("choices=%v", reply.Choices)
	}
	e.Handle(ctx, userChoice(1, "tristezza"))

	recs := log.records()
	if len(recs) != 1 {
		t.Fatalf("records=%d", len(recs))
	}
	if recs[0].PredictedLabelsRaw != "" || recs[0].ConfirmedLabels != "tristezza" {
		t.Fatalf("record=%+v", recs[0])
	}
}

func TestEngine_FreeformCorrection(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: joyRanking}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	e.Handle(ctx, userText(1, "che bella giornata"))
	e.Handle(ctx, userChoice(1, ChoiceNo))
	if s := e.Sessions().Get(1); s.State != AwaitingCorrection {
		t.Fatalf("state=%s", s.State)
	}
	e.Handle(ctx, userChoice(1, ChoiceOther))
	if s := e.Sessions().Get(1); s.State != AwaitingFreeformCorrection {
		t.Fatalf("state=%s", s.State)
	}
	reply := e.Handle(ctx, userText(1, "rabbia, paura"))
	if reply.Text != textThanks {
		t.Fatalf("reply=%q", reply.Text)
	}

	recs := log.records()
	if len(recs) != 1 || recs[0].ConfirmedLabels != "rabbia, paura" {
		t.Fatalf("records=%+v", recs)
	}
	if recs[0].PredictedLabelsRaw == "" {
		t.Fatalf("predicted column must be set on the non-empty path")
	}
}

func TestEngine_FreeformAfterEmptyPredictionKeepsPredictedEmpty(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: emotion.Ranking{{Label: "gioia", Confidence: 0.1}}}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	e.Handle(ctx, userText(1, "boh"))
	e.Handle(ctx, userChoice(1, ChoiceYes))
	e.Handle(ctx, userChoice(1, ChoiceOther))
	e.Handle(ctx, userText(1, "noia"))

	recs := log.records()
	if len(recs) != 1 || recs[0].PredictedLabelsRaw != "" || recs[0].ConfirmedLabels != "noia" {
		t.Fatalf("records=%+v", recs)
	}
}

func TestEngine_ClassifierFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: joyRanking}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	c.err = emotion.Unavailablef(503, errors.New("service unavailable"))
	reply := e.Handle(ctx, userText(1, "ciao"))
	if reply.Text != textClassifierFailed {
		t.Fatalf("reply=%q", reply.Text)
	}
	if s := e.Sessions().Get(1); s.State != Idle || s.LastText != "" {
		t.Fatalf("session=%+v", s)
	}

	// failure in the middle of a correction keeps the pending episode
	c.err = nil
	e.Handle(ctx, userText(1, "che bella giornata"))
	e.Handle(ctx, userChoice(1, ChoiceNo))
	c.err = emotion.Malformed(errors.New("bad json"))
	e.Handle(ctx, userText(1, "un'altra frase"))
	s := e.Sessions().Get(1)
	if s.State != AwaitingCorrection || s.LastText != "che bella giornata" {
		t.Fatalf("session=%+v", s)
	}
	if len(log.records()) != 0 {
		t.Fatalf("records=%v", log.records())
	}
}

func TestEngine_CancelFromAnyActiveStateWritesNothing(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: joyRanking}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	paths := map[string][]Event{
		"confirmation": {userText(1, "x")},
		"correction":   {userText(1, "x"), userChoice(1, ChoiceNo)},
		"freeform":     {userText(1, "x"), userChoice(1, ChoiceNo), userChoice(1, ChoiceOther)},
	}
	for name, evs := range paths {
		for _, ev := range evs {
			e.Handle(ctx, ev)
		}
		if s := e.Sessions().Get(1); s.State == Idle {
			t.Fatalf("%s: expected active state before cancel", name)
		}
		reply := e.Handle(ctx, userCommand(1, "annulla", ""))
		if reply.Text != textCancelled {
			t.Fatalf("%s: reply=%q", name, reply.Text)
		}
		if s := e.Sessions().Get(1); s.State != Idle {
			t.Fatalf("%s: state=%s", name, s.State)
		}
	}
	if len(log.records()) != 0 {
		t.Fatalf("records=%v", log.records())
	}
}

func TestEngine_UnsupervisedAnalyzeDoesNotTouchSession(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: joyRanking}
	log := &memLog{}
	e := newTestEngine(t, c, log)

	reply := e.Handle(context.Background(), userCommand(1, "analizza", "che bella giornata"))
	if !strings.Contains(reply.Text, "joy") || len(reply.Choices) != 0 {
		t.Fatalf("reply=%+v", reply)
	}
	if strings.Contains(reply.Text, textConfirmQuestion) {
		t.Fatalf("unsupervised reply must not ask for confirmation")
	}
	if s := e.Sessions().Get(1); s.State != Idle || s.LastText != "" {
		t.Fatalf("session=%+v", s)
	}
}

func TestEngine_PersistenceFailureStillThanksAndAlerts(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: joyRanking}
	log := &memLog{err: errors.New("disk full")}
	alerts := &fakeAlerter{}
	e, err := NewEngine(Config{Classifier: c, Log: log, Threshold: 0.5, Alerter: alerts})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx := context.Background()

	e.Handle(ctx, userText(1, "che bella giornata"))
	reply := e.Handle(ctx, userChoice(1, ChoiceYes))
	if reply.Text != textThanksConfirmed {
		t.Fatalf("reply=%q", reply.Text)
	}
	if len(alerts.msgs) != 1 || !strings.Contains(alerts.msgs[0], "disk full") {
		t.Fatalf("alerts=%v", alerts.msgs)
	}
	if s := e.Sessions().Get(1); s.State != Idle {
		t.Fatalf("state=%s", s.State)
	}
}

func TestEngine_SecondAnalysisReplacesPendingEpisode(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{byText: map[string]emotion.Ranking{
		"primo":   {{Label: "gioia", Confidence: 0.9}},
		"secondo": {{Label: "paura", Confidence: 0.7}},
	}}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	e.Handle(ctx, userText(1, "primo"))
	e.Handle(ctx, userChoice(1, ChoiceNo))
	e.Handle(ctx, userText(1, "secondo"))

	s := e.Sessions().Get(1)
	if s.LastText != "secondo" || emotion.JoinLabels(s.LastRanking) != "paura" || s.State != AwaitingConfirmation {
		t.Fatalf("session=%+v", s)
	}

	e.Handle(ctx, userChoice(1, ChoiceYes))
	recs := log.records()
	if len(recs) != 1 {
		t.Fatalf("records=%d", len(recs))
	}
	if recs[0].OriginalText != "secondo" || recs[0].ConfirmedLabels != "paura" || strings.Contains(recs[0].PredictedLabelsRaw, "gioia") {
		t.Fatalf("record mixes episodes: %+v", recs[0])
	}
}

func TestEngine_TextWhileAwaitingConfirmationCountsAsNo(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: joyRanking}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	e.Handle(ctx, userText(1, "che bella giornata"))
	reply := e.Handle(ctx, userText(1, "oggi piove ancora"))

	if !strings.HasPrefix(reply.Text, textAssumeNo) {
		t.Fatalf("reply=%q", reply.Text)
	}
	if len(reply.Choices) == 0 {
		t.Fatalf("expected correction keyboard")
	}
	s := e.Sessions().Get(1)
	if s.State != AwaitingCorrection || s.LastText != "che bella giornata" {
		t.Fatalf("session=%+v", s)
	}
	if c.calls != 1 {
		t.Fatalf("classifier calls=%d, want 1", c.calls)
	}
	if n := len(log.records()); n != 0 {
		t.Fatalf("records=%d, want 0", n)
	}
}

type ctxAlerter struct {
	mu   sync.Mutex
	errs []error
}

func (a *ctxAlerter) Alert(ctx context.Context, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, ctx.Err())
	return ctx.Err()
}

func TestEngine_RecordSurvivesCancelledContext(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "out", "supervision.csv")
	log, err := supervision.NewCSVLog(p)
	if err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}
	e := newTestEngine(t, &fakeClassifier{fallback: joyRanking}, log)

	e.Handle(context.Background(), userText(1, "che bello"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply := e.Handle(ctx, userChoice(1, ChoiceYes))
	if reply.Text != textThanksConfirmed {
		t.Fatalf("reply=%q", reply.Text)
	}

	rows, err := supervision.ReadAll(p)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 1 || rows[0][5] != "che bello" {
		t.Fatalf("rows=%v", rows)
	}
}

func TestEngine_FailureAlertSurvivesCancelledContext(t *testing.T) {
	t.Parallel()

	alerts := &ctxAlerter{}
	e, err := NewEngine(Config{
		Classifier: &fakeClassifier{fallback: joyRanking},
		Log:        &memLog{err: errors.New("disk full")},
		Threshold:  0.5,
		Alerter:    alerts,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	e.Handle(context.Background(), userText(1, "che bello"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Handle(ctx, userChoice(1, ChoiceYes))

	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	if len(alerts.errs) != 1 || alerts.errs[0] != nil {
		t.Fatalf("alert ctx errs=%v", alerts.errs)
	}
}

func TestEngine_SameConversationIsSerialized(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		inFlight  int
		maxFlight int
	)
	c := &fakeClassifier{fallback: joyRanking}
	c.onCall = func() {
		mu.Lock()
		inFlight++
		if inFlight > maxFlight {
			maxFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}
	e := newTestEngine(t, c, &memLog{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Handle(context.Background(), userCommand(7, "analizza", "x"))
		}()
	}
	wg.Wait()
	if maxFlight != 1 {
		t.Fatalf("max concurrent classifier calls for one chat=%d, want 1", maxFlight)
	}
}

func TestEngine_DifferentConversationsAreIndependent(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{fallback: joyRanking}
	log := &memLog{}
	e := newTestEngine(t, c, log)
	ctx := context.Background()

	e.Handle(ctx, userText(1, "uno"))
	e.Handle(ctx, userText(2, "due"))
	e.Handle(ctx, userCommand(2, "annulla", ""))
	e.Handle(ctx, userChoice(1, ChoiceYes))

	recs := log.records()
	if len(recs) != 1 || recs[0].ConversationID != 1 || recs[0].OriginalText != "uno" {
		t.Fatalf("records=%+v", recs)
	}
	if e.Sessions().Len() != 2 {
		t.Fatalf("sessions=%d", e.Sessions().Len())
	}
}

func TestEngine_IgnoredEventHasNoReply(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, &fakeClassifier{fallback: joyRanking}, &memLog{})
	if reply := e.Handle(context.Background(), userChoice(1, "gioia")); reply.Handled {
		t.Fatalf("reply=%+v", reply)
	}
}

func TestNewEngine_Validates(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine(Config{Log: &memLog{}}); err == nil {
		t.Fatalf("expected error for nil classifier")
	}
	if _, err := NewEngine(Config{Classifier: &fakeClassifier{}}); err == nil {
		t.Fatalf("expected error for nil log")
	}
	if _, err := NewEngine(Config{Classifier: &fakeClassifier{}, Log: &memLog{}, Threshold: 1.5}); err == nil {
		t.Fatalf("expected error for threshold out of range")
	}
	if _, err := NewEngine(Config{Classifier: &fakeClassifier{}, Log: &memLog{}, Threshold: math.NaN()}); err == nil {
		t.Fatalf("expected error for NaN threshold")
	}
	if _, err := NewEngine(Config{Classifier: &fakeClassifier{}, Log: &memLog{}, Labels: []string{"gioia", "Cancel"}}); err == nil {
		t.Fatalf("expected error for label colliding with a control choice")
	}
}

func TestIsReservedChoice(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"yes", "NO", " Other ", "cancel"} {
		if !IsReservedChoice(s) {
			t.Fatalf("%q should be reserved", s)
		}
	}
	for _, s := range []string{"gioia", "altro", ""} {
		if IsReservedChoice(s) {
			t.Fatalf("%q should not be reserved", s)
		}
	}
}

func TestSessionStore_GetCreatesIdleAndSetCopies(t *testing.T) {
	t.Parallel()

	s := NewSessionStore()
	got := s.Get(5)
	if got.State != Idle || got.ConversationID != 5 {
		t.Fatalf("session=%+v", got)
	}

	r := emotion.Ranking{{Label: "gioia", Confidence: 0.9}}
	s.Set(5, Session{State: AwaitingConfirmation, LastText: "x", LastRanking: r})
	r[0].Label = "mutated"

	got = s.Get(5)
	if got.State != AwaitingConfirmation || got.LastRanking[0].Label != "gioia" {
		t.Fatalf("session=%+v", got)
	}
}
