package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/theimaginaryfoundation/emotions-bot/emotion/fileutils"
)

const maxAlertBytes = 3500

// AdminAlerter forwards operator alerts to a fixed chat. A zero ChatID
// disables it.
type AdminAlerter struct {
	API    API
	ChatID int64
}

func (a AdminAlerter) Alert(ctx context.Context, text string) error {
	if a.API == nil || a.ChatID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.API.Send(tgbotapi.NewMessage(a.ChatID, fileutils.Truncate(text, maxAlertBytes)))
	return err
}
