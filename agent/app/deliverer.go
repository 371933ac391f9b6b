package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3rciful/agentbot/agent/intent"

	tele "gopkg.in/telebot.v4"
)

// outbound is satisfied by *helpers.Outbound.
type outbound interface {
	SendText(ctx context.Context, to tele.Recipient, text string, opts *tele.SendOptions) error
	SendDocuments(ctx context.Context, to tele.Recipient, paths []string) error
	SendPhotos(ctx context.Context, to tele.Recipient, paths []string) error
}

// telegramDeliverer sends a reply in order: text, documents, photos.
type telegramDeliverer struct {
	out  outbound
	menu *tele.ReplyMarkup
}

func (d *telegramDeliverer) Deliver(ctx context.Context, chatID int64, r intent.Reply) error {
	to := tele.ChatID(chatID)

	if r.Text != "" {
		opts := &tele.SendOptions{}
		if r.Markdown {
			opts.ParseMode = tele.ModeMarkdown
		}
		if r.Menu {
			opts.ReplyMarkup = d.menu
		}
		if err := d.out.SendText(ctx, to, r.Text, opts); err != nil {
			return fmt.Errorf("deliver text: %w", err)
		}
	}

	var mediaErr error
	if len(r.Documents) > 0 {
		if err := d.out.SendDocuments(ctx, to, r.Documents); err != nil {
			mediaErr = fmt.Errorf("deliver documents: %w", err)
		}
	}
	if mediaErr == nil && len(r.Photos) > 0 {
		if err := d.out.SendPhotos(ctx, to, r.Photos); err != nil {
			mediaErr = fmt.Errorf("deliver photos: %w", err)
		}
	}
	if mediaErr != nil && r.MediaFailed != "" {
		if err := d.out.SendText(ctx, to, r.MediaFailed, nil); err != nil {
			return errors.Join(mediaErr, err)
		}
	}
	return mediaErr
}
