// Package intent decides what one incoming text means and produces the reply.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/agentbot/agent/form"
	"github.com/m3rciful/agentbot/agent/lead"
	"github.com/m3rciful/agentbot/agent/media"
	"github.com/m3rciful/agentbot/core/logger"
	tg "github.com/m3rciful/agentbot/core/telegram"
	"github.com/m3rciful/agentbot/core/telegram/state"
)

const (
	defaultAnswerTimeout = 30 * time.Second
	defaultNotifyTimeout = 15 * time.Second
)

// Turn is one text message from one user.
type Turn struct {
	UserID   int64
	ChatID   int64
	Username string
	FullName string
	Text     string
}

// Reply is everything sent back for a turn, in order: text, documents, photos.
type Reply struct {
	Text        string
	Menu        bool
	Markdown    bool
	Documents   []string
	Photos      []string
	MediaFailed string // sent instead when documents or photos cannot be delivered
}

// Answerer replies to free-text questions.
type Answerer interface {
	Generate(ctx context.Context, question string, userID int64) (string, error)
}

// Catalog lists media files.
type Catalog interface {
	Brochures() ([]string, error)
	Photos() ([]string, error)
}

// Options wire the router's collaborators.
type Options struct {
	Registry *tg.Registry
	Store    state.Store
	Form     *form.Machine
	Answerer Answerer
	Notifier lead.Notifier
	Catalog  Catalog
	Texts    Texts

	AnswerTimeout time.Duration
	NotifyTimeout time.Duration
}

// Router routes turns. Callers must not run two turns of one user at once.
type Router struct {
	reg      *tg.Registry
	store    state.Store
	form     *form.Machine
	answerer Answerer
	notifier lead.Notifier
	catalog  Catalog
	texts    Texts

	answerTimeout time.Duration
	notifyTimeout time.Duration
}

// New validates opts. A nil Registry is built from the texts.
func New(opts Options) (*Router, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("intent: session store is required")
	case opts.Form == nil:
		return nil, errors.New("intent: form is required")
	case opts.Answerer == nil:
		return nil, errors.New("intent: answerer is required")
	case opts.Notifier == nil:
		return nil, errors.New("intent: notifier is required")
	}
	texts := opts.Texts.WithDefaults()
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry(texts)
	}
	r := &Router{
		reg:           reg,
		store:         opts.Store,
		form:          opts.Form,
		answerer:      opts.Answerer,
		notifier:      opts.Notifier,
		catalog:       opts.Catalog,
		texts:         texts,
		answerTimeout: opts.AnswerTimeout,
		notifyTimeout: opts.NotifyTimeout,
	}
	if r.answerTimeout <= 0 {
		r.answerTimeout = defaultAnswerTimeout
	}
	if r.notifyTimeout <= 0 {
		r.notifyTimeout = defaultNotifyTimeout
	}
	return r, nil
}

// Route handles one turn. Errors are left for the caller to turn into a
// generic reply; validation and answer failures are not errors.
func (r *Router) Route(ctx context.Context, t Turn) (Reply, error) {
	if name, _, ok := r.reg.LookupCommand(t.Text); ok {
		switch name {
		case CommandStart:
			r.logRoute(ctx, "command.start", t)
			return Reply{Text: r.texts.Welcome, Menu: true}, nil
		case CommandBrochure:
			r.logRoute(ctx, "command.brochure", t)
			return r.brochure(ctx), nil
		case CommandPhotos:
			r.logRoute(ctx, "command.photos", t)
			return r.photos(ctx), nil
		case CommandApply:
			return r.startForm(ctx, t)
		}
	}

	sess, found, err := r.store.Get(ctx, t.UserID)
	if err != nil {
		return Reply{}, fmt.Errorf("intent: load session: %w", err)
	}
	if found && sess.Active() {
		if !r.form.Handles(sess.State) {
			logger.Warn(ctx, "intent", "session.stale",
				slog.String("status", "rejected"),
				slog.String("state", string(sess.State)),
			)
			err := fmt.Errorf("intent: session in unknown state %q", sess.State)
			if rmErr := r.store.Remove(ctx, t.UserID); rmErr != nil {
				err = errors.Join(err, rmErr)
			}
			return Reply{}, err
		}
		return r.advanceForm(ctx, t, sess)
	}
	return r.answer(ctx, t), nil
}

func (r *Router) startForm(ctx context.Context, t Turn) (Reply, error) {
	sess, prompt := r.form.Start(t.UserID)
	if err := r.store.Put(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("intent: start form: %w", err)
	}
	logger.Info(ctx, "intent", "form.start",
		slog.Int64("user_id", t.UserID),
		slog.String("next_state", string(sess.State)),
	)
	return Reply{Text: prompt}, nil
}

func (r *Router) advanceForm(ctx context.Context, t Turn, sess *state.Session) (Reply, error) {
	from := sess.State
	res, err := r.form.Advance(sess, t.Text)
	if err != nil {
		if rmErr := r.store.Remove(ctx, t.UserID); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return Reply{}, fmt.Errorf("intent: advance form: %w", err)
	}
	if !res.Accepted {
		logger.Info(ctx, "intent", "form.step",
			slog.String("status", "rejected"),
			slog.String("state", string(from)),
		)
		return Reply{Text: res.Message}, nil
	}
	if !res.Complete {
		if err := r.store.Put(ctx, sess); err != nil {
			return Reply{}, fmt.Errorf("intent: save session: %w", err)
		}
		logger.Info(ctx, "intent", "form.step",
			slog.String("status", "ok"),
			slog.String("state", string(from)),
			slog.String("next_state", string(sess.State)),
		)
		return Reply{Text: res.Message}, nil
	}
	return r.complete(ctx, t, sess), nil
}

// complete notifies operators and always drops the session, whatever the
// notification outcome.
func (r *Router) complete(ctx context.Context, t Turn, sess *state.Session) Reply {
	l := lead.New(t.UserID, t.Username, t.FullName, sess.Fields)

	notifyCtx, cancel := context.WithTimeout(ctx, r.notifyTimeout)
	start := time.Now()
	notifyErr := r.notifier.Notify(notifyCtx, l)
	cancel()

	if err := r.store.Remove(ctx, t.UserID); err != nil {
		logger.Error(ctx, "intent", "session.remove",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}

	if notifyErr != nil {
		logger.Error(ctx, "intent", "form.complete",
			slog.String("status", "fail"),
			slog.String("lead_id", l.ID.String()),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", notifyErr.Error()),
		)
		return Reply{Text: r.texts.LeadFailed}
	}
	logger.Info(ctx, "intent", "form.complete",
		slog.String("status", "ok"),
		slog.String("lead_id", l.ID.String()),
		slog.Duration("duration", logger.Took(start)),
	)
	return Reply{Text: r.texts.LeadSent}
}

func (r *Router) answer(ctx context.Context, t Turn) Reply {
	answerCtx, cancel := context.WithTimeout(ctx, r.answerTimeout)
	defer cancel()

	start := time.Now()
	text, err := r.answerer.Generate(answerCtx, t.Text, t.UserID)
	if err == nil && text == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		status := "fail"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		logger.Warn(ctx, "intent", "route.answer",
			slog.String("status", status),
			slog.String("outcome", "fallback"),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return Reply{Text: r.texts.AnswerFallback}
	}
	logger.Info(ctx, "intent", "route.answer",
		slog.String("status", "ok"),
		slog.Duration("duration", logger.Took(start)),
	)
	return Reply{Text: text}
}

func (r *Router) brochure(ctx context.Context) Reply {
	if r.catalog == nil {
		return Reply{Text: r.texts.DocumentsNotFound}
	}
	files, err := r.catalog.Brochures()
	switch {
	case errors.Is(err, media.ErrNotFound):
		return Reply{Text: r.texts.DocumentsNotFound}
	case err != nil:
		logger.Error(ctx, "intent", "media.brochure", slog.String("err", err.Error()))
		return Reply{Text: r.texts.DocumentsFailed}
	}
	return Reply{Text: r.texts.DocumentsIntro, Documents: files, MediaFailed: r.texts.DocumentsFailed}
}

func (r *Router) photos(ctx context.Context) Reply {
	if r.catalog == nil {
		return Reply{Text: r.texts.PhotosNotFound}
	}
	files, err := r.catalog.Photos()
	switch {
	case errors.Is(err, media.ErrNotFound):
		return Reply{Text: r.texts.PhotosNotFound}
	case err != nil:
		logger.Error(ctx, "intent", "media.photos", slog.String("err", err.Error()))
		return Reply{Text: r.texts.PhotosFailed}
	}
	return Reply{Photos: files, MediaFailed: r.texts.PhotosFailed}
}

func (r *Router) logRoute(ctx context.Context, route string, t Turn) {
	logger.Debug(ctx, "intent", "route.command",
		slog.String("route", route),
		slog.Int64("user_id", t.UserID),
	)
}
