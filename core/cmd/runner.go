// Package cmd runs a Telegram app from its config file to shutdown.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/agentbot/core/config"
	"github.com/m3rciful/agentbot/core/logger"
	coretelegram "github.com/m3rciful/agentbot/core/telegram"
)

// DefaultConfigEnvVar names the variable that overrides the config path.
const DefaultConfigEnvVar = "AGENTBOT_CONFIG"

// ConfigCarrier exposes access to the embedded core configuration.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// TelegramApp is the minimal interface required to run a Telegram bot.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// StatusReporter is implemented by apps that describe their background
// state. The attributes are logged when the bot becomes ready and on stop.
type StatusReporter interface {
	Status() []slog.Attr
}

// Options describe how to load configuration, bootstrap the app and run the bot.
type Options struct {
	// ConfigEnvVar defaults to DefaultConfigEnvVar.
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (ConfigCarrier, error)
	Bootstrap  func(cfg ConfigCarrier) (TelegramApp, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

// Run loads configuration, bootstraps the app and blocks until SIGINT or
// SIGTERM stops the bot.
func Run(opts Options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return RunContext(ctx, opts)
}

// RunContext is Run with the caller owning cancellation.
func RunContext(ctx context.Context, opts Options) error {
	if opts.LoadConfig == nil {
		return errors.New("cmd: LoadConfig is required")
	}
	if opts.Bootstrap == nil {
		return errors.New("cmd: Bootstrap is required")
	}

	cfgPath, err := configPath(opts)
	if err != nil {
		return err
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := opts.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: load config: %w", err)
	}
	if cfg == nil || cfg.CoreConfig() == nil {
		return errors.New("cmd: loaded config is missing core configuration")
	}

	startedAt := time.Now()
	application, err := opts.Bootstrap(cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	runOpts, err := application.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options: %w", err)
	}
	withLifecycleLogs(&runOpts, application, startedAt)

	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	return run(ctx, runOpts)
}

func configPath(opts Options) (string, error) {
	env := opts.ConfigEnvVar
	if env == "" {
		env = DefaultConfigEnvVar
	}
	if p := os.Getenv(env); p != "" {
		return p, nil
	}
	if opts.DefaultConfigPath != "" {
		return opts.DefaultConfigPath, nil
	}
	return "", fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", env)
}

// withLifecycleLogs wraps the app hooks with ready and shutdown events.
func withLifecycleLogs(runOpts *coretelegram.RunOptions, application TelegramApp, startedAt time.Time) {
	status := func() []slog.Attr {
		if r, ok := application.(StatusReporter); ok {
			return r.Status()
		}
		return nil
	}

	prevStart := runOpts.OnStart
	runOpts.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		if prevStart != nil {
			if err := prevStart(ctx, rt); err != nil {
				logger.Error(ctx, "app", "app.start",
					slog.String("status", "fail"),
					slog.String("err", err.Error()),
				)
				return err
			}
		}
		attrs := append([]slog.Attr{
			slog.String("status", "ok"),
			slog.Duration("duration", logger.Took(startedAt)),
		}, status()...)
		logger.Info(ctx, "app", "app.ready", attrs...)
		return nil
	}

	prevStop := runOpts.OnStop
	runOpts.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "app.shutdown", status()...)
		if prevStop == nil {
			return nil
		}
		stopStart := time.Now()
		err := prevStop(ctx, rt)
		attrs := []slog.Attr{
			slog.String("status", logger.Status(err)),
			slog.Duration("duration", logger.Took(stopStart)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("err", err.Error()))
		}
		logger.Info(ctx, "app", "app.stopped", append(attrs, status()...)...)
		return err
	}
}
