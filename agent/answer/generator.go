// Package answer replies to free-text questions about the object.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/m3rciful/agentbot/core/logger"
)

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("answer: empty completion")

// Completer turns a prompt into model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Generator answers from the FAQ table first and falls back to the model.
type Generator struct {
	kb        *Knowledge
	completer Completer
	pick      func(n int) int
}

// NewGenerator wires knowledge with a completer.
func NewGenerator(kb *Knowledge, completer Completer) (*Generator, error) {
	if kb == nil {
		return nil, fmt.Errorf("answer: nil knowledge")
	}
	if completer == nil {
		return nil, fmt.Errorf("answer: nil completer")
	}
	return &Generator{kb: kb, completer: completer, pick: rand.IntN}, nil
}

// Generate returns the reply for question. A failed model call yields the
// knowledge fallback; errors are returned only when none is configured.
func (g *Generator) Generate(ctx context.Context, question string, userID int64) (string, error) {
	question = strings.TrimSpace(question)
	lower := strings.ToLower(question)

	if faq, ok := g.lookupFAQ(lower); ok {
		logger.Info(ctx, "answer", "question.received",
			slog.Int64("user_id", userID),
			slog.String("route", "faq"),
			slog.String("payload", logger.SanitizeLimit(question, 256)),
		)
		return faq.Answer + g.kb.Contact, nil
	}

	persona := Classify(lower, g.kb.Cues)
	logger.Info(ctx, "answer", "question.received",
		slog.Int64("user_id", userID),
		slog.String("route", "model"),
		slog.String("persona", string(persona)),
		slog.String("payload", logger.SanitizeLimit(question, 256)),
	)

	text, err := g.completer.Complete(ctx, g.Prompt(question, persona))
	switch {
	case err != nil:
		err = fmt.Errorf("answer: completion failed: %w", err)
	case strings.TrimSpace(text) == "":
		err = ErrEmptyCompletion
	default:
		return strings.TrimSpace(text) + g.kb.Contact, nil
	}
	if g.kb.Fallback == "" {
		return "", err
	}
	logger.Warn(ctx, "answer", "completion.fail",
		slog.String("status", "fail"),
		slog.String("outcome", "fallback"),
		slog.String("err", err.Error()),
	)
	return g.kb.Fallback + g.kb.Contact, nil
}

func (g *Generator) lookupFAQ(lower string) (FAQEntry, bool) {
	for _, e := range g.kb.FAQ {
		if e.Keyword != "" && strings.Contains(lower, e.Keyword) {
			return e, true
		}
	}
	return FAQEntry{}, false
}

func (g *Generator) fileHint(lower string) string {
	for _, h := range g.kb.FileHints {
		if h.Keyword != "" && strings.Contains(lower, h.Keyword) {
			return h.Hint
		}
	}
	return ""
}

func (g *Generator) choose(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[g.pick(len(options))]
}

// Prompt builds the model prompt: object summary, persona style, the
// question and a three-point answer outline.
func (g *Generator) Prompt(question string, persona Persona) string {
	script := g.kb.script(persona)
	cta := g.choose(script.CTAs)
	if hint := g.fileHint(strings.ToLower(question)); hint != "" {
		cta += "\n📎 " + hint
	}

	var b strings.Builder
	b.WriteString(g.kb.Summary)
	b.WriteString("\n\n")
	if script.Style != "" {
		b.WriteString(script.Style)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Вопрос клиента: %q\n\n", question)
	b.WriteString("Ответ:\n")
	fmt.Fprintf(&b, "1. %s\n", g.kb.Highlight)
	fmt.Fprintf(&b, "2. 📄 %s\n", cta)
	fmt.Fprintf(&b, "3. ❓ %s", g.choose(script.Followups))
	return b.String()
}
