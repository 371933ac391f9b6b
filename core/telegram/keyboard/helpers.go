// Package keyboard builds reply markups.
package keyboard

import tele "gopkg.in/telebot.v4"

// ReplyButtons builds a resizable reply keyboard from rows of labels.
// Empty labels and empty rows are skipped.
func ReplyButtons(rows ...[]string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	keyboard := make([]tele.Row, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tele.Btn, 0, len(row))
		for _, label := range row {
			if label == "" {
				continue
			}
			buttons = append(buttons, markup.Text(label))
		}
		if len(buttons) > 0 {
			keyboard = append(keyboard, markup.Row(buttons...))
		}
	}
	markup.Reply(keyboard...)
	return markup
}
