package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/agentbot/core/config"
	"github.com/m3rciful/agentbot/core/logger"
	tghelpers "github.com/m3rciful/agentbot/core/telegram/helpers"
	tgsender "github.com/m3rciful/agentbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route declares a single bot handler bound to an arbitrary endpoint.
// Endpoint values are passed directly to tele.Bot.Handle.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry

	SenderOptions tgsender.Options
	HTTPClient    HTTPClientOptions

	Middlewares []Middleware
	Routes      []Route

	DisableWebhookCleanup bool

	// OnStart runs after the bot is built and before updates flow.
	OnStart func(ctx context.Context, rt Runtime) error
	// OnStop runs after the poller stopped; no handler runs concurrently.
	OnStop func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Bot      *tele.Bot
	Outbound *tghelpers.Outbound
	Retrier  *tgsender.Retrier
	Registry *Registry
}

// RunTelegram composes and runs a Telegram bot until the provided context is done.
// Handlers run synchronously in the bot loop so updates are handed over in
// arrival order.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}

	cfg := opts.Config
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	poller := BuildPoller(PollerOptionsFromConfig(cfg))
	settings := tele.Settings{
		Token:       cfg.Telegram.Token,
		Poller:      poller,
		Client:      BuildHTTPClient(opts.HTTPClient),
		Synchronous: true,
		OnError: func(err error, c tele.Context) {
			lctx := logger.Background()
			if c != nil {
				lctx = tghelpers.BuildContext(c)
			}
			logger.Error(lctx, "tg", "bot.error", slog.String("err", err.Error()))
		},
	}

	buildStart := time.Now()
	bot, err := tele.NewBot(settings)
	if err != nil {
		return fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	retrier := tgsender.NewRetrier(opts.SenderOptions)
	rt := Runtime{
		Bot:      bot,
		Outbound: tghelpers.NewOutbound(bot, retrier),
		Retrier:  retrier,
		Registry: reg,
	}

	var pollerErrs <-chan error
	switch p := poller.(type) {
	case *WebhookPoller:
		pollerErrs = p.Errors()
		logger.Info(ctx, "tg", "mode",
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", p.Addr()),
			slog.String("public_url", p.PublicURL()),
			slog.String("username", bot.Me.Username),
			slog.Duration("duration", logger.Took(buildStart)),
		)
	default:
		logger.Info(ctx, "tg", "mode",
			slog.String("mode", coreconfig.RunModeLongpoll),
			slog.String("username", bot.Me.Username),
			slog.Duration("duration", logger.Took(buildStart)),
		)
		if !opts.DisableWebhookCleanup && strings.EqualFold(cfg.Telegram.RunMode, coreconfig.RunModeLongpoll) {
			if err := bot.RemoveWebhook(false); err != nil {
				logger.Warn(ctx, "tg", "delete_webhook", slog.String("status", "fail"), slog.String("err", err.Error()))
			} else {
				logger.Info(ctx, "tg", "delete_webhook", slog.String("status", "ok"))
			}
		}
	}

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, route := range opts.Routes {
		if route.Endpoint == nil || route.Handler == nil {
			continue
		}
		bot.Handle(route.Endpoint, route.Handler)
	}

	if err := InitBotCommands(bot, reg); err != nil {
		logger.Warn(ctx, "tg", "commands.skip", slog.String("err", err.Error()))
	}

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	var runErr error
	select {
	case <-runDone:
	case <-ctx.Done():
		runErr = ctx.Err()
		bot.Stop()
		<-runDone
	case runErr = <-pollerErrs:
		bot.Stop()
		<-runDone
	}

	var stopErr error
	if opts.OnStop != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		stopErr = opts.OnStop(stopCtx, rt)
		cancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return errors.Join(runErr, stopErr)
	}
	return stopErr
}
