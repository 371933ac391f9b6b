// Package dispatch runs turns: one worker per user with pending updates, so
// a user's updates are handled in arrival order while users proceed in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/m3rciful/agentbot/agent/intent"
	"github.com/m3rciful/agentbot/core/logger"
)

var (
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatch: closed")
	// ErrQueueFull is returned when a user already has MaxPending updates
	// queued. The user is sent Texts.Failure.
	ErrQueueFull = errors.New("dispatch: user queue full")
	// ErrNoSender is returned for updates without a user.
	ErrNoSender = errors.New("dispatch: update has no sender")
)

// Update is the part of an inbound update the dispatcher needs.
type Update struct {
	ID       int
	UserID   int64
	ChatID   int64
	Username string
	FullName string
	Text     string
}

// Router produces the reply for a turn.
type Router interface {
	Route(ctx context.Context, t intent.Turn) (intent.Reply, error)
}

// Deliverer sends a reply to a chat.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, r intent.Reply) error
}

// Texts are the replies used when routing cannot.
type Texts struct {
	TextOnly string `yaml:"text_only"`
	Failure  string `yaml:"failure"`
}

// DefaultTexts returns the stock Russian texts.
func DefaultTexts() Texts {
	return Texts{
		TextOnly: "✍️ Я понимаю только текстовые сообщения. Напишите вопрос текстом или воспользуйтесь меню.",
		Failure:  "⚠️ Что-то пошло не так. Попробуйте ещё раз чуть позже.",
	}
}

// Options tune the dispatcher.
type Options struct {
	// DedupeTTL is how long update ids are remembered; zero means ten minutes.
	DedupeTTL time.Duration
	// MaxPending caps queued updates per user; zero means 32.
	MaxPending int
	Texts      Texts
}

type job struct {
	ctx context.Context
	upd Update
}

type mailbox struct {
	queue []job
}

// Dispatcher owns the per-user workers.
type Dispatcher struct {
	router    Router
	deliverer Deliverer
	texts     Texts
	limit     int
	seen      *cache.Cache

	mu        sync.Mutex
	mailboxes map[int64]*mailbox
	closed    bool
	wg        sync.WaitGroup

	stopCtx context.Context
	stop    context.CancelFunc
}

// New builds a dispatcher. Workers start on demand.
func New(router Router, deliverer Deliverer, opts Options) (*Dispatcher, error) {
	if router == nil {
		return nil, fmt.Errorf("dispatch: router is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("dispatch: deliverer is required")
	}
	ttl := opts.DedupeTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	limit := opts.MaxPending
	if limit <= 0 {
		limit = 32
	}
	texts := opts.Texts
	def := DefaultTexts()
	if strings.TrimSpace(texts.TextOnly) == "" {
		texts.TextOnly = def.TextOnly
	}
	if strings.TrimSpace(texts.Failure) == "" {
		texts.Failure = def.Failure
	}

	stopCtx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		router:    router,
		deliverer: deliverer,
		texts:     texts,
		limit:     limit,
		seen:      cache.New(ttl, 2*ttl),
		mailboxes: make(map[int64]*mailbox),
		stopCtx:   stopCtx,
		stop:      stop,
	}, nil
}

// Dispatch queues upd for its user and returns without waiting for the turn.
// Redelivered update ids are dropped silently.
func (d *Dispatcher) Dispatch(ctx context.Context, upd Update) error {
	if upd.UserID == 0 {
		return ErrNoSender
	}
	if upd.ChatID == 0 {
		upd.ChatID = upd.UserID
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	key := strconv.Itoa(upd.ID)
	if upd.ID != 0 {
		if _, dup := d.seen.Get(key); dup {
			logger.Debug(ctx, "dispatch", "update.duplicate",
				slog.String("status", "skip"),
				slog.Int("update_id", upd.ID),
			)
			return nil
		}
	}

	mb, running := d.mailboxes[upd.UserID]
	if running && len(mb.queue) >= d.limit {
		logger.Warn(ctx, "dispatch", "update.rejected",
			slog.String("status", "rejected"),
			slog.String("cause", "queue_full"),
			slog.Int("pending", len(mb.queue)),
		)
		// The id stays unseen so a redelivery is processed.
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(context.WithoutCancel(ctx), upd, intent.Reply{Text: d.texts.Failure})
		}()
		return ErrQueueFull
	}
	if !running {
		mb = &mailbox{}
		d.mailboxes[upd.UserID] = mb
	}
	mb.queue = append(mb.queue, job{ctx: context.WithoutCancel(ctx), upd: upd})
	if upd.ID != 0 {
		d.seen.SetDefault(key, struct{}{})
	}
	if !running {
		d.wg.Add(1)
		go d.work(upd.UserID)
	}
	return nil
}

// Pending reports queued updates across users, excluding running turns.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, mb := range d.mailboxes {
		n += len(mb.queue)
	}
	return n
}

// Close stops intake and waits for queued turns. When ctx ends first,
// running turns are cancelled and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work(userID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		mb := d.mailboxes[userID]
		if len(mb.queue) == 0 {
			delete(d.mailboxes, userID)
			d.mu.Unlock()
			return
		}
		j := mb.queue[0]
		mb.queue[0] = job{}
		mb.queue = mb.queue[1:]
		d.mu.Unlock()

		d.turn(j)
	}
}

func (d *Dispatcher) turn(j job) {
	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	unlink := context.AfterFunc(d.stopCtx, cancel)
	defer unlink()

	upd := j.upd
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logger.Error(ctx, "dispatch", "turn.panic",
				slog.String("status", "fail"),
				slog.Int64("user_id", upd.UserID),
				slog.String("err", fmt.Sprint(p)),
			)
			d.deliver(ctx, upd, intent.Reply{Text: d.texts.Failure})
		}
	}()

	if strings.TrimSpace(upd.Text) == "" {
		logger.Info(ctx, "dispatch", "turn",
			slog.String("status", "skip"),
			slog.String("cause", "no_text"),
			slog.Int64("user_id", upd.UserID),
		)
		d.deliver(ctx, upd, intent.Reply{Text: d.texts.TextOnly})
		return
	}

	reply, err := d.router.Route(ctx, intent.Turn{
		UserID:   upd.UserID,
		ChatID:   upd.ChatID,
		Username: upd.Username,
		FullName: upd.FullName,
		Text:     upd.Text,
	})
	if err != nil {
		logger.Error(ctx, "dispatch", "turn",
			slog.String("status", "fail"),
			slog.Int64("user_id", upd.UserID),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		reply = intent.Reply{Text: d.texts.Failure}
	}
	d.deliver(ctx, upd, reply)
	logger.Debug(ctx, "dispatch", "turn",
		slog.String("status", logger.Status(err)),
		slog.Int64("user_id", upd.UserID),
		slog.Duration("duration", logger.Took(start)),
	)
}

func (d *Dispatcher) deliver(ctx context.Context, upd Update, r intent.Reply) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error(ctx, "dispatch", "deliver.panic",
				slog.String("status", "fail"),
				slog.String("err", fmt.Sprint(p)),
			)
		}
	}()
	if err := d.deliverer.Deliver(ctx, upd.ChatID, r); err != nil {
		logger.Error(ctx, "dispatch", "deliver",
			slog.String("status", "fail"),
			slog.Int64("chat_id", upd.ChatID),
			slog.String("err", err.Error()),
		)
	}
}
