package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/agentbot/core/config"

	tele "gopkg.in/telebot.v4"
)

// WebhookOptions declares webhook listener and registration settings.
type WebhookOptions struct {
	Listen         string
	Port           int
	URL            string
	Path           string
	SecretToken    string
	DropPending    bool
	AllowedUpdates []string
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	Webhook                WebhookOptions
}

// BuildPoller returns the webhook poller or a long poller depending on run mode.
func BuildPoller(opts PollerOptions) tele.Poller {
	if strings.EqualFold(strings.TrimSpace(opts.RunMode), coreconfig.RunModeWebhook) {
		return NewWebhookPoller(opts.Webhook)
	}

	timeoutSec := opts.LongPollTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &tele.LongPoller{Timeout: time.Duration(timeoutSec) * time.Second}
}

// PollerOptionsFromConfig maps core configuration onto poller settings.
func PollerOptionsFromConfig(cfg *coreconfig.Config) PollerOptions {
	return PollerOptions{
		RunMode:                cfg.Telegram.RunMode,
		LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
		Webhook: WebhookOptions{
			Listen:      cfg.Webhook.Listen,
			Port:        cfg.Webhook.Port,
			URL:         cfg.Webhook.URL,
			Path:        cfg.Webhook.Path,
			SecretToken: cfg.Webhook.SecretToken,
			DropPending: cfg.Webhook.DropPending,
		},
	}
}
