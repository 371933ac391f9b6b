package intent

import (
	"strings"

	tg "github.com/m3rciful/agentbot/core/telegram"
	"github.com/m3rciful/agentbot/core/telegram/commands"
)

// Menu commands.
const (
	CommandStart    = "/start"
	CommandBrochure = "/brochure"
	CommandPhotos   = "/photos"
	CommandApply    = "/apply"
)

// Texts are the replies the router sends on its own.
type Texts struct {
	BrochureLabel string `yaml:"brochure_label"`
	PhotosLabel   string `yaml:"photos_label"`
	ApplyLabel    string `yaml:"apply_label"`

	Welcome           string `yaml:"welcome"`
	DocumentsIntro    string `yaml:"documents_intro"`
	DocumentsNotFound string `yaml:"documents_not_found"`
	DocumentsFailed   string `yaml:"documents_failed"`
	PhotosNotFound    string `yaml:"photos_not_found"`
	PhotosFailed      string `yaml:"photos_failed"`
	LeadSent          string `yaml:"lead_sent"`
	LeadFailed        string `yaml:"lead_failed"`
	AnswerFallback    string `yaml:"answer_fallback"`
}

// DefaultTexts returns the stock Russian texts.
func DefaultTexts() Texts {
	return Texts{
		BrochureLabel: "📁 Получить КП",
		PhotosLabel:   "📷 Фото объекта",
		ApplyLabel:    "📝 Оставить заявку",

		Welcome: "👋 Добро пожаловать! Я Telegram-ассистент по продаже уникального объекта.\n\n" +
			"📑 Получить КП\n📷 Фото объекта\n📝 Оставить заявку\n\n" +
			"📩 Или просто задайте вопрос, я отвечу!",
		DocumentsIntro:    "📎 Отправляю документы:",
		DocumentsNotFound: "❌ Документы не найдены.",
		DocumentsFailed:   "⚠️ Не удалось отправить документы.",
		PhotosNotFound:    "📂 Фото не найдены.",
		PhotosFailed:      "⚠️ Ошибка при отправке фото.",
		LeadSent:          "✅ Спасибо! Заявка отправлена.",
		LeadFailed:        "😔 Заявку сохранили, но не смогли сразу передать менеджеру. Мы свяжемся с вами, как только получим её.",
		AnswerFallback:    "🤖 Временно не могу ответить. Попробуйте позже или оставьте заявку.",
	}
}

// WithDefaults fills empty texts from DefaultTexts.
func (t Texts) WithDefaults() Texts {
	def := DefaultTexts()
	fill := func(dst *string, d string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = d
		}
	}
	fill(&t.BrochureLabel, def.BrochureLabel)
	fill(&t.PhotosLabel, def.PhotosLabel)
	fill(&t.ApplyLabel, def.ApplyLabel)
	fill(&t.Welcome, def.Welcome)
	fill(&t.DocumentsIntro, def.DocumentsIntro)
	fill(&t.DocumentsNotFound, def.DocumentsNotFound)
	fill(&t.DocumentsFailed, def.DocumentsFailed)
	fill(&t.PhotosNotFound, def.PhotosNotFound)
	fill(&t.PhotosFailed, def.PhotosFailed)
	fill(&t.LeadSent, def.LeadSent)
	fill(&t.LeadFailed, def.LeadFailed)
	fill(&t.AnswerFallback, def.AnswerFallback)
	return t
}

// Keyboard returns the main menu rows.
func (t Texts) Keyboard() [][]string {
	return [][]string{{t.BrochureLabel}, {t.PhotosLabel}, {t.ApplyLabel}}
}

// NewRegistry registers the menu commands with the keyboard labels as aliases.
func NewRegistry(t Texts) *tg.Registry {
	reg := tg.NewRegistry()
	reg.RegisterCommand(CommandStart, commands.Command{Description: "Главное меню"})
	reg.RegisterCommand(CommandBrochure, commands.Command{Description: "Получить КП", Aliases: []string{t.BrochureLabel}})
	reg.RegisterCommand(CommandPhotos, commands.Command{Description: "Фото объекта", Aliases: []string{t.PhotosLabel}})
	reg.RegisterCommand(CommandApply, commands.Command{Description: "Оставить заявку", Aliases: []string{t.ApplyLabel}})
	return reg
}
