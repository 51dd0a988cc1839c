package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/emotions-bot/dialog"
)

// chatConversationID is the fixed conversation used by the terminal REPL.
const chatConversationID int64 = 1

type sender struct {
	ID          int64
	Username    string
	DisplayName string
}

func localSender() sender {
	s := sender{Username: "cli", DisplayName: "cli"}
	if u, err := user.Current(); err == nil {
		s.Username = u.Username
		if u.Name != "" {
			s.DisplayName = u.Name
		} else {
			s.DisplayName = u.Username
		}
	}
	s.ID = int64(os.Getuid())
	return s
}

type chatHandler interface {
	Handle(ctx context.Context, ev dialog.Event) dialog.Reply
}

// runChat reads one event per line from in and prints the replies to out until
// EOF or ctx is cancelled.
func runChat(ctx context.Context, h chatHandler, in io.Reader, out io.Writer, from sender) error {
	fmt.Fprintln(out, "Scrivi una frase, /comando o #scelta. Ctrl-D per uscire.")
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		ev, ok := parseChatLine(sc.Text())
		if !ok {
			continue
		}
		ev.ConversationID = chatConversationID
		ev.SenderID = from.ID
		ev.SenderUsername = from.Username
		ev.SenderDisplayName = from.DisplayName
		ev.Timestamp = time.Now()

		reply := h.Handle(ctx, ev)
		if !reply.Handled {
			continue
		}
		fmt.Fprintln(out, strings.TrimRight(reply.Text, "\n"))
		for _, c := range reply.Choices {
			fmt.Fprintf(out, "  #%s  %s\n", c.Value, c.Caption)
		}
	}
	return sc.Err()
}

// parseChatLine maps a terminal line to an event: "/cmd args" is a command,
// "#value" a button press, anything else plain text.
func parseChatLine(line string) (dialog.Event, bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return dialog.Event{}, false
	case strings.HasPrefix(line, "/"):
		name, args, _ := strings.Cut(line[1:], " ")
		if name == "" {
			return dialog.Event{}, false
		}
		return dialog.Event{Kind: dialog.CommandEvent, Command: name, Args: strings.TrimSpace(args)}, true
	case strings.HasPrefix(line, "#") && len(line) > 1:
		return dialog.Event{Kind: dialog.ChoiceEvent, Choice: strings.TrimSpace(line[1:])}, true
	default:
		return dialog.Event{Kind: dialog.TextEvent, Text: line}, true
	}
}
