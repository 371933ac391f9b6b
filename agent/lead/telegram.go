package lead

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/agentbot/core/logger"
	"github.com/m3rciful/agentbot/core/telegram/format"

	tele "gopkg.in/telebot.v4"
)

// textSender is satisfied by *helpers.Outbound.
type textSender interface {
	SendMD(ctx context.Context, to tele.Recipient, text string, markup *tele.ReplyMarkup) error
}

// Labels name the fields in the operator message. Unknown fields use their name.
type Labels map[string]string

// DefaultLabels returns the stock Russian labels.
func DefaultLabels() Labels {
	return Labels{
		"name":    "👤 Имя",
		"phone":   "📱 Телефон",
		"comment": "💬 Комментарий",
	}
}

// TelegramNotifier posts leads to one chat.
type TelegramNotifier struct {
	sender textSender
	chat   tele.Recipient
	title  string
	labels Labels
}

// NewTelegramNotifier targets chatID. An empty title uses the default heading.
func NewTelegramNotifier(sender textSender, chatID int64, title string, labels Labels) *TelegramNotifier {
	if strings.TrimSpace(title) == "" {
		title = "📥 Новая заявка"
	}
	if labels == nil {
		labels = DefaultLabels()
	}
	return &TelegramNotifier{sender: sender, chat: tele.ChatID(chatID), title: title, labels: labels}
}

// Notify sends the formatted lead.
func (n *TelegramNotifier) Notify(ctx context.Context, l Lead) error {
	err := n.sender.SendMD(ctx, n.chat, n.Format(l), nil)
	if err != nil {
		logger.Warn(ctx, "lead", "notify.fail",
			slog.String("lead_id", l.ID.String()),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("lead: notify operators: %w", err)
	}
	logger.Info(ctx, "lead", "notify.ok",
		slog.String("lead_id", l.ID.String()),
		slog.Int("fields", len(l.Fields)),
	)
	return nil
}

// Format renders l as legacy Markdown with every user value escaped.
func (n *TelegramNotifier) Format(l Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", format.MD(n.title))
	for _, f := range l.Fields {
		label, ok := n.labels[f.Name]
		if !ok {
			label = f.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", format.MD(label), format.MD(f.Value))
	}

	display := strings.TrimSpace(l.FullName)
	if display == "" {
		display = fmt.Sprintf("id%d", l.UserID)
	}
	fmt.Fprintf(&b, "🆔 Telegram: [%s](tg://user?id=%d)", format.MD(display), l.UserID)
	if l.Username != "" {
		fmt.Fprintf(&b, " @%s", format.MD(l.Username))
	}
	return b.String()
}
