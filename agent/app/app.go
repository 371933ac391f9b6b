// Package app wires the agent bot: configuration, collaborators and the
// Telegram runtime hooks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/agentbot/agent/answer"
	"github.com/m3rciful/agentbot/agent/dispatch"
	"github.com/m3rciful/agentbot/agent/form"
	"github.com/m3rciful/agentbot/agent/intent"
	"github.com/m3rciful/agentbot/agent/lead"
	"github.com/m3rciful/agentbot/agent/media"
	"github.com/m3rciful/agentbot/core/bootstrap"
	corecmd "github.com/m3rciful/agentbot/core/cmd"
	"github.com/m3rciful/agentbot/core/logger"
	tg "github.com/m3rciful/agentbot/core/telegram"
	tghelpers "github.com/m3rciful/agentbot/core/telegram/helpers"
	"github.com/m3rciful/agentbot/core/telegram/keyboard"
	tgrouter "github.com/m3rciful/agentbot/core/telegram/router"
	"github.com/m3rciful/agentbot/core/telegram/state"

	tele "gopkg.in/telebot.v4"
)

// App holds the collaborators built at bootstrap and the ones built once
// the bot exists.
type App struct {
	cfg      *Config
	infra    *bootstrap.Result
	redis    *redis.Client
	store    state.Store
	form     *form.Machine
	answerer intent.Answerer
	catalog  media.Catalog
	outbox   *lead.Outbox
	registry *tg.Registry
	texts    intent.Texts

	dispatcher  *dispatch.Dispatcher
	stopRedeliv context.CancelFunc
	background  sync.WaitGroup
}

// Options allow tests to replace external collaborators.
type Options struct {
	Bootstrap func(bootstrap.Options) (*bootstrap.Result, error)
	Completer answer.Completer
}

// Bootstrap satisfies the runner's bootstrap hook.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	a, err := New(cfg, Options{})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// New initializes logging, the optional database and every collaborator
// that does not need the bot.
func New(cfg *Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	run := opts.Bootstrap
	if run == nil {
		run = bootstrap.Run
	}
	infra, err := run(bootstrap.Options{Config: &cfg.Config})
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, infra: infra, catalog: media.Catalog{
		BrochureDir: cfg.Assets.BrochureDir,
		PhotosDir:   cfg.Assets.PhotosDir,
	}}
	if err := a.build(opts); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(opts Options) error {
	cfg := a.cfg
	ctx := logger.Background()

	switch cfg.Session.Backend {
	case SessionRedis:
		a.redis = newRedisClient(ctx, cfg.Session.RedisURL)
		a.store = state.NewRedisStore(a.redis, cfg.Session.Prefix, minutes(cfg.Session.TTLMinutes))
	default:
		a.store = state.NewMemoryStore()
	}
	logger.Info(ctx, "session", "store.ready", slog.String("mode", cfg.Session.Backend))

	machine, err := form.New(form.Options{
		MinNameLength:  cfg.Form.MinNameLength,
		CollectComment: cfg.Form.CollectComment,
		PhoneCharset:   cfg.Form.PhoneCharset,
	}, cfg.Texts.Form)
	if err != nil {
		return err
	}
	a.form = machine

	kb, err := answer.LoadKnowledge(cfg.KnowledgeFile)
	if err != nil {
		return err
	}
	completer := opts.Completer
	if completer == nil {
		completer, err = answer.NewOpenAICompleter(answer.OpenAIOptions{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			Model:        cfg.OpenAI.Model,
			SystemPrompt: cfg.OpenAI.SystemPrompt,
			Temperature:  cfg.OpenAI.Temperature,
			MaxTokens:    cfg.OpenAI.MaxTokens,
			HTTPClient: tg.BuildHTTPClient(tg.HTTPClientOptions{
				Timeout:         seconds(cfg.OpenAI.TimeoutSeconds),
				ResponseTimeout: seconds(cfg.OpenAI.TimeoutSeconds),
				RetryAttempts:   1,
			}),
		})
		if err != nil {
			return err
		}
	}
	gen, err := answer.NewGenerator(kb, completer)
	if err != nil {
		return err
	}
	a.answerer = gen

	if a.infra != nil && a.infra.DB != nil {
		a.outbox = lead.NewOutbox(a.infra.DB)
	}

	a.texts = cfg.Texts.Intent.WithDefaults()
	a.registry = intent.NewRegistry(a.texts)
	return nil
}

// TelegramRunOptions satisfies corecmd.TelegramApp. Rate limited updates
// still go to the dispatcher; the per-user queue keeps them in order.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	return tg.RunOptions{
		Config:      &a.cfg.Config,
		Registry:    a.registry,
		Middlewares: tg.DefaultMiddlewares(&a.cfg.Config, a.handleMessage),
		Routes:      tgrouter.TextRoutes(a.handleMessage),
		OnStart:     a.start,
		OnStop:      a.stop,
	}, nil
}

func (a *App) start(_ context.Context, rt tg.Runtime) error {
	deliverer := &telegramDeliverer{
		out:  rt.Outbound,
		menu: keyboard.ReplyButtons(a.texts.Keyboard()...),
	}
	dispatcher, err := a.wire(rt.Outbound, deliverer)
	if err != nil {
		return err
	}
	a.dispatcher = dispatcher
	return nil
}

// wire builds the notifier, router and dispatcher on top of the bot's sender.
func (a *App) wire(sender *tghelpers.Outbound, deliverer dispatch.Deliverer) (*dispatch.Dispatcher, error) {
	cfg := a.cfg
	operator := lead.NewTelegramNotifier(sender, cfg.Leads.ChatID, cfg.Leads.Title, nil)

	var notifier lead.Notifier = operator
	if a.outbox != nil {
		notifier = lead.NewRecordingNotifier(operator, a.outbox)
		a.startRedelivery(operator)
	}

	router, err := intent.New(intent.Options{
		Registry:      a.registry,
		Store:         a.store,
		Form:          a.form,
		Answerer:      a.answerer,
		Notifier:      notifier,
		Catalog:       a.catalog,
		Texts:         a.texts,
		AnswerTimeout: seconds(cfg.OpenAI.TimeoutSeconds),
		NotifyTimeout: seconds(cfg.Leads.NotifyTimeoutSeconds),
	})
	if err != nil {
		return nil, err
	}
	return dispatch.New(router, deliverer, dispatch.Options{
		DedupeTTL:  seconds(cfg.Dispatch.DedupeTTLSeconds),
		MaxPending: cfg.Dispatch.MaxPending,
		Texts:      cfg.Texts.Dispatch,
	})
}

func (a *App) startRedelivery(notifier lead.Notifier) {
	rc := a.cfg.Leads.Redelivery
	r := lead.NewRedeliverer(a.outbox, notifier, lead.RedeliveryOptions{
		Interval:    seconds(rc.IntervalSeconds),
		MaxAttempts: rc.MaxAttempts,
		Batch:       rc.Batch,
	})
	ctx, cancel := context.WithCancel(logger.Background())
	a.stopRedeliv = cancel
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		r.Run(ctx)
	}()
}

// Status satisfies corecmd.StatusReporter.
func (a *App) Status() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("mode", a.cfg.Session.Backend),
		slog.Int("commands", len(a.registry.Commands())),
		slog.Bool("outbox", a.outbox != nil),
		slog.Bool("redelivery", a.stopRedeliv != nil),
	}
	if a.dispatcher != nil {
		attrs = append(attrs, slog.Int("pending", a.dispatcher.Pending()))
	}
	return attrs
}

func (a *App) stop(ctx context.Context, _ tg.Runtime) error {
	var errs []error
	if a.dispatcher != nil {
		closeCtx, cancel := context.WithTimeout(ctx, seconds(a.cfg.Dispatch.ShutdownSeconds))
		if err := a.dispatcher.Close(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("app: dispatcher close: %w", err))
		}
		cancel()
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// close stops background work and releases connections.
func (a *App) close() error {
	if a.stopRedeliv != nil {
		a.stopRedeliv()
		a.background.Wait()
	}
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: redis close: %w", err))
		}
	}
	if err := a.infra.Close(); err != nil {
		errs = append(errs, fmt.Errorf("app: database close: %w", err))
	}
	return errors.Join(errs...)
}

// handleMessage hands the message to the dispatcher and returns at once.
// A full queue is answered by the dispatcher itself.
func (a *App) handleMessage(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if a.dispatcher == nil {
		return dispatch.ErrClosed
	}
	err := a.dispatcher.Dispatch(ctx, updateFrom(c))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrNoSender):
		logger.Warn(ctx, "dispatch", "update.dropped", slog.String("err", err.Error()))
		return nil
	}
	return err
}

// updateFrom reads the message text, not the caption, so media messages
// arrive with empty text.
func updateFrom(c tele.Context) dispatch.Update {
	upd := dispatch.Update{ID: c.Update().ID}
	if s := c.Sender(); s != nil {
		upd.UserID = s.ID
		upd.Username = s.Username
		upd.FullName = strings.TrimSpace(s.FirstName + " " + s.LastName)
	}
	if chat := c.Chat(); chat != nil {
		upd.ChatID = chat.ID
	}
	if m := c.Message(); m != nil {
		upd.Text = m.Text
	}
	return upd
}

func newRedisClient(ctx context.Context, rawURL string) *redis.Client {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		logger.Warn(ctx, "session", "redis.url",
			slog.String("status", "fallback"),
			slog.String("err", err.Error()),
		)
		opt = &redis.Options{Addr: rawURL}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn(ctx, "session", "redis.ping",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	return client
}
