// Package form collects a lead through an ordered sequence of validated fields.
package form

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/m3rciful/agentbot/core/telegram/state"
)

// Form steps stored in state.Session.State.
const (
	StateAwaitingName    state.State = "awaiting_name"
	StateAwaitingPhone   state.State = "awaiting_phone"
	StateAwaitingComment state.State = "awaiting_comment"
	StateComplete        state.State = "complete"
)

// Field names under which accepted values are stored.
const (
	FieldName    = "name"
	FieldPhone   = "phone"
	FieldComment = "comment"
)

// Phone charsets accepted by Options.PhoneCharset.
const (
	PhoneDigitsOnly    = "digits-only"
	PhoneInternational = "international"
)

// NoCommentInput is what a user types to skip the comment step.
const NoCommentInput = "-"

// Options tune the validators and the optional comment step.
type Options struct {
	MinNameLength  int
	CollectComment bool
	PhoneCharset   string
}

// Texts are the user-facing prompts and corrective messages.
type Texts struct {
	AskName      string `yaml:"ask_name"`
	AskPhone     string `yaml:"ask_phone"`
	AskComment   string `yaml:"ask_comment"`
	InvalidName  string `yaml:"invalid_name"`
	InvalidPhone string `yaml:"invalid_phone"`
	NoComment    string `yaml:"no_comment"`
}

// DefaultTexts returns the stock Russian texts.
func DefaultTexts() Texts {
	return Texts{
		AskName:      "✍️ Введите ваше ФИО:",
		AskPhone:     "📞 Введите номер телефона:",
		AskComment:   "💬 Комментарий или вопрос (необязательно). Если ничего нет, напишите -",
		InvalidName:  "⚠️ Пожалуйста, укажите имя.",
		InvalidPhone: "⚠️ Номер телефона может содержать только цифры, пробелы и дефисы. Попробуйте ещё раз:",
		NoComment:    "без комментария",
	}
}

func (t Texts) withDefaults() Texts {
	def := DefaultTexts()
	pick := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return v
	}
	return Texts{
		AskName:      pick(t.AskName, def.AskName),
		AskPhone:     pick(t.AskPhone, def.AskPhone),
		AskComment:   pick(t.AskComment, def.AskComment),
		InvalidName:  pick(t.InvalidName, def.InvalidName),
		InvalidPhone: pick(t.InvalidPhone, def.InvalidPhone),
		NoComment:    pick(t.NoComment, def.NoComment),
	}
}

// Validator returns the normalized value, or ok=false to reject raw.
type Validator func(raw string) (value string, ok bool)

// FieldSpec is one step of the form.
type FieldSpec struct {
	State    state.State
	Name     string
	Prompt   string
	Invalid  string
	Validate Validator
	Next     state.State
}

// Result describes what Advance did with an input.
type Result struct {
	// Accepted is false when the input was rejected; the session is untouched.
	Accepted bool
	// Complete is true once the last field was stored.
	Complete bool
	// Message is the next prompt, the corrective text, or empty on completion.
	Message string
}

// Machine drives sessions through the field specs. It holds no per-user state.
type Machine struct {
	specs map[state.State]FieldSpec
	order []FieldSpec
	texts Texts
	now   func() time.Time
}

// New builds the field table for opts.
func New(opts Options, texts Texts) (*Machine, error) {
	texts = texts.withDefaults()
	minName := opts.MinNameLength
	if minName < 1 {
		minName = 1
	}

	var phone Validator
	switch strings.ToLower(strings.TrimSpace(opts.PhoneCharset)) {
	case "", PhoneDigitsOnly:
		phone = phoneValidator(false)
	case PhoneInternational:
		phone = phoneValidator(true)
	default:
		return nil, fmt.Errorf("form: unknown phone charset %q", opts.PhoneCharset)
	}

	afterPhone := StateComplete
	if opts.CollectComment {
		afterPhone = StateAwaitingComment
	}

	order := []FieldSpec{
		{
			State:    StateAwaitingName,
			Name:     FieldName,
			Prompt:   texts.AskName,
			Invalid:  texts.InvalidName,
			Validate: nameValidator(minName),
			Next:     StateAwaitingPhone,
		},
		{
			State:    StateAwaitingPhone,
			Name:     FieldPhone,
			Prompt:   texts.AskPhone,
			Invalid:  texts.InvalidPhone,
			Validate: phone,
			Next:     afterPhone,
		},
	}
	if opts.CollectComment {
		order = append(order, FieldSpec{
			State:    StateAwaitingComment,
			Name:     FieldComment,
			Prompt:   texts.AskComment,
			Validate: commentValidator(texts.NoComment),
			Next:     StateComplete,
		})
	}

	specs := make(map[state.State]FieldSpec, len(order))
	for _, spec := range order {
		specs[spec.State] = spec
	}
	return &Machine{specs: specs, order: order, texts: texts, now: time.Now}, nil
}

// Handles reports whether s is a step of this form.
func (m *Machine) Handles(s state.State) bool {
	_, ok := m.specs[s]
	return ok
}

// Start returns a fresh session at the first step and its prompt.
func (m *Machine) Start(userID int64) (*state.Session, string) {
	first := m.order[0]
	return &state.Session{
		UserID:    userID,
		State:     first.State,
		UpdatedAt: m.now(),
	}, first.Prompt
}

// Advance validates raw against the session's current step. On success the
// value is stored and the session moves to the next step.
func (m *Machine) Advance(sess *state.Session, raw string) (Result, error) {
	if sess == nil {
		return Result{}, state.ErrNilSession
	}
	spec, ok := m.specs[sess.State]
	if !ok {
		return Result{}, fmt.Errorf("form: session of user %d is in unknown state %q", sess.UserID, sess.State)
	}

	value, ok := spec.Validate(raw)
	if !ok {
		return Result{Message: spec.Invalid}, nil
	}

	sess.Set(spec.Name, value)
	sess.State = spec.Next
	sess.UpdatedAt = m.now()

	if spec.Next == StateComplete {
		return Result{Accepted: true, Complete: true}, nil
	}
	return Result{Accepted: true, Message: m.specs[spec.Next].Prompt}, nil
}

func nameValidator(minLen int) Validator {
	return func(raw string) (string, bool) {
		v := strings.TrimSpace(raw)
		if v == "" || utf8.RuneCountInString(v) < minLen {
			return "", false
		}
		return v, true
	}
}

func phoneValidator(international bool) Validator {
	return func(raw string) (string, bool) {
		v := strings.TrimSpace(raw)
		if v == "" {
			return "", false
		}
		digits := v
		if international {
			digits = strings.TrimPrefix(digits, "+")
			digits = strings.NewReplacer("(", "", ")", "").Replace(digits)
		}
		digits = strings.NewReplacer(" ", "", "-", "").Replace(digits)
		if digits == "" {
			return "", false
		}
		for _, r := range digits {
			if r > unicode.MaxASCII || !unicode.IsDigit(r) {
				return "", false
			}
		}
		return v, true
	}
}

func commentValidator(sentinel string) Validator {
	return func(raw string) (string, bool) {
		v := strings.TrimSpace(raw)
		if v == NoCommentInput {
			return sentinel, true
		}
		return v, true
	}
}
