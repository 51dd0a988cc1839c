package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/theimaginaryfoundation/emotions-bot/dialog"
	"github.com/theimaginaryfoundation/emotions-bot/internal/logger"
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler turns one event into the reply to send.
type Handler interface {
	Handle(ctx context.Context, ev dialog.Event) dialog.Reply
}

type Options struct {
	// Concurrency caps the number of chats handled at once. Updates of one
	// chat are handled sequentially in arrival order.
	Concurrency int
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
}

// Bot long-polls Telegram and feeds every update to a Handler.
type Bot struct {
	api     API
	handler Handler
	logger  *logger.Logger
	opt     Options
}

func NewBot(api API, handler Handler, lg *logger.Logger, opt Options) (*Bot, error) {
	if api == nil {
		return nil, errors.New("telegram: api is nil")
	}
	if handler == nil {
		return nil, errors.New("telegram: handler is nil")
	}
	if lg == nil {
		lg = logger.Nop()
	}
	if opt.Concurrency <= 0 {
		opt.Concurrency = 8
	}
	if opt.PollTimeout <= 0 {
		opt.PollTimeout = 60
	}
	return &Bot{api: api, handler: handler, logger: lg, opt: opt}, nil
}

// Run blocks until ctx is cancelled or the update channel closes, then waits
// for in-flight updates to finish. Updates of one chat are handled one at a
// time in arrival order; Concurrency caps the number of chats served at once.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.opt.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	d := &dispatcher{
		bot:    b,
		sem:    make(chan struct{}, b.opt.Concurrency),
		queues: map[int64]*chatQueue{},
	}
	defer d.wg.Wait()

	b.logger.Info("telegram polling started", "concurrency", b.opt.Concurrency)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if !d.dispatch(ctx, update) {
				b.api.StopReceivingUpdates()
				return nil
			}
		}
	}
}

// chatQueue holds the updates of one chat waiting for its worker.
type chatQueue struct {
	pending []tgbotapi.Update
}

// dispatcher runs one worker per active chat. A worker drains its chat's
// queue in FIFO order and exits when the queue is empty.
type dispatcher struct {
	bot *Bot
	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	queues map[int64]*chatQueue
}

// dispatch queues update behind earlier updates of the same chat, starting a
// worker if the chat has none. It returns false if ctx ended while waiting
// for a free worker slot.
func (d *dispatcher) dispatch(ctx context.Context, update tgbotapi.Update) bool {
	key := chatKey(update)

	d.mu.Lock()
	if q, ok := d.queues[key]; ok {
		q.pending = append(q.pending, update)
		d.mu.Unlock()
		return true
	}
	q := &chatQueue{pending: []tgbotapi.Update{update}}
	d.queues[key] = q
	d.mu.Unlock()

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.queues, key)
		d.mu.Unlock()
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		for {
			d.mu.Lock()
			if len(q.pending) == 0 {
				delete(d.queues, key)
				d.mu.Unlock()
				return
			}
			next := q.pending[0]
			q.pending = q.pending[1:]
			d.mu.Unlock()
			d.bot.handleUpdate(ctx, next)
		}
	}()
	return true
}

// chatKey is the chat an update belongs to, or 0 when it has none.
func chatKey(update tgbotapi.Update) int64 {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Message != nil && cq.Message.Chat != nil {
			return cq.Message.Chat.ID
		}
		if cq.From != nil {
			return cq.From.ID
		}
		return 0
	}
	if m := update.Message; m != nil && m.Chat != nil {
		return m.Chat.ID
	}
	return 0
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cq := update.CallbackQuery; cq != nil {
		// stops the client-side spinner on the pressed button
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			b.logger.Warn("answer callback failed", "error", err.Error())
		}
	}

	ev, ok := EventFromUpdate(update)
	if !ok {
		return
	}
	reply := b.handler.Handle(ctx, ev)
	if !reply.Handled {
		return
	}

	msg := RenderReply(ev.ConversationID, replyTarget(update), reply)
	if _, err := b.api.Send(msg); err != nil {
		if !reply.Markdown {
			b.logger.Warn("send reply failed", "chat_id", ev.ConversationID, "error", err.Error())
			return
		}
		// Telegram rejects messages whose markdown it cannot parse.
		msg.ParseMode = ""
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Warn("send reply failed", "chat_id", ev.ConversationID, "error", err.Error())
		}
	}
}

// EventFromUpdate maps a Telegram update to a dialog event. ok is false for
// updates the bot does not react to (edits, channel posts, stickers, ...).
func EventFromUpdate(update tgbotapi.Update) (dialog.Event, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Data == "" {
			return dialog.Event{}, false
		}
		ev := dialog.Event{Kind: dialog.ChoiceEvent, Choice: cq.Data}
		fillSender(&ev, cq.From)
		switch {
		case cq.Message != nil && cq.Message.Chat != nil:
			ev.ConversationID = cq.Message.Chat.ID
		case cq.From != nil:
			ev.ConversationID = cq.From.ID
		default:
			return dialog.Event{}, false
		}
		return ev, true
	}

	m := update.Message
	if m == nil || m.Chat == nil {
		return dialog.Event{}, false
	}
	ev := dialog.Event{ConversationID: m.Chat.ID}
	if m.Date != 0 {
		ev.Timestamp = m.Time()
	}
	fillSender(&ev, m.From)

	switch {
	case m.IsCommand():
		ev.Kind = dialog.CommandEvent
		ev.Command = m.Command()
		ev.Args = m.CommandArguments()
	case strings.TrimSpace(m.Text) != "":
		ev.Kind = dialog.TextEvent
		ev.Text = m.Text
	default:
		return dialog.Event{}, false
	}
	return ev, true
}

func fillSender(ev *dialog.Event, u *tgbotapi.User) {
	if u == nil {
		return
	}
	ev.SenderID = u.ID
	ev.SenderUsername = u.UserName
	ev.SenderDisplayName = strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func replyTarget(update tgbotapi.Update) int {
	if update.Message != nil {
		return update.Message.MessageID
	}
	return 0
}

// RenderReply builds the outgoing message. replyTo quotes the user's message
// when non-zero.
func RenderReply(chatID int64, replyTo int, r dialog.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, r.Text)
	if r.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	if len(r.Choices) > 0 {
		msg.ReplyMarkup = Keyboard(r.Choices)
	}
	return msg
}

// Keyboard lays out one inline button per row; the callback data is the
// choice value.
func Keyboard(choices []dialog.Choice) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, c := range choices {
		caption := c.Caption
		if caption == "" {
			caption = c.Value
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(caption, c.Value)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
