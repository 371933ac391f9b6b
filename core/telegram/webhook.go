package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/agentbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const (
	// SecretTokenHeader carries the secret Telegram echoes back on every webhook call.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

	maxWebhookBody      = 1 << 20
	webhookShutdownWait = 5 * time.Second
)

// ErrWebhookStopped is returned by the sink once the poller is shutting down.
var ErrWebhookStopped = errors.New("telegram: webhook stopped")

// UpdateSink accepts a decoded update. It must not block past ctx.
type UpdateSink func(ctx context.Context, upd tele.Update) error

// WebhookHandlerOptions configures NewWebhookHandler.
type WebhookHandlerOptions struct {
	Path        string
	SecretToken string
}

type webhookReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewWebhookHandler serves POST {Path} with Telegram updates and GET / as a
// health probe. Malformed payloads get 400 with {"ok":false,"error":...};
// accepted updates get {"ok":true} once the sink took them.
func NewWebhookHandler(opts WebhookHandlerOptions, sink UpdateSink) http.Handler {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.With(chimw.RequestSize(maxWebhookBody)).Post(path, func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if opts.SecretToken != "" && req.Header.Get(SecretTokenHeader) != opts.SecretToken {
			logger.Warn(ctx, "webhook", "update.rejected",
				slog.String("status", "rejected"),
				slog.String("cause", "secret_token"),
			)
			writeJSON(w, http.StatusUnauthorized, webhookReply{Error: "invalid secret token"})
			return
		}

		var upd tele.Update
		if err := json.NewDecoder(req.Body).Decode(&upd); err != nil {
			logger.Warn(ctx, "webhook", "update.malformed",
				slog.String("status", "rejected"),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
			writeJSON(w, http.StatusBadRequest, webhookReply{Error: "malformed update: " + err.Error()})
			return
		}

		if err := sink(ctx, upd); err != nil {
			logger.Warn(ctx, "webhook", "update.dropped",
				slog.String("status", "fail"),
				slog.Int("update_id", upd.ID),
				slog.String("err", err.Error()),
			)
			writeJSON(w, http.StatusServiceUnavailable, webhookReply{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, webhookReply{OK: true})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WebhookPoller is a tele.Poller that registers the webhook with Telegram
// and serves it over HTTP until the bot stops.
type WebhookPoller struct {
	opts WebhookOptions

	errs     chan error
	failOnce sync.Once
}

// NewWebhookPoller builds a poller from the webhook settings.
func NewWebhookPoller(opts WebhookOptions) *WebhookPoller {
	return &WebhookPoller{
		opts: opts,
		errs: make(chan error, 1),
	}
}

// Errors reports fatal poller failures such as a failed registration or listener.
func (p *WebhookPoller) Errors() <-chan error {
	return p.errs
}

// Addr is the listen address.
func (p *WebhookPoller) Addr() string {
	return fmt.Sprintf("%s:%d", p.opts.Listen, p.opts.Port)
}

// PublicURL returns the URL registered with Telegram. A configured URL
// without a path gets the handler path appended.
func (p *WebhookPoller) PublicURL() string {
	return publicWebhookURL(p.opts.URL, p.opts.Path)
}

func publicWebhookURL(base, path string) string {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Host == "" {
		return base
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String()
}

func (p *WebhookPoller) fail(err error) {
	p.failOnce.Do(func() { p.errs <- err })
}

// Poll satisfies tele.Poller.
func (p *WebhookPoller) Poll(b *tele.Bot, dest chan tele.Update, stop chan struct{}) {
	ctx := logger.Background()
	hook := &tele.Webhook{
		Endpoint:       &tele.WebhookEndpoint{PublicURL: p.PublicURL()},
		DropUpdates:    p.opts.DropPending,
		SecretToken:    p.opts.SecretToken,
		AllowedUpdates: p.opts.AllowedUpdates,
	}
	if err := b.SetWebhook(hook); err != nil {
		logger.Error(ctx, "webhook", "register.fail",
			slog.String("public_url", p.PublicURL()),
			slog.String("err", err.Error()),
		)
		p.fail(fmt.Errorf("telegram: set webhook: %w", err))
		<-stop
		return
	}
	p.serve(dest, stop)
}

func (p *WebhookPoller) serve(dest chan tele.Update, stop chan struct{}) {
	ctx := logger.Background()
	sink := func(reqCtx context.Context, upd tele.Update) error {
		select {
		case <-stop:
			return ErrWebhookStopped
		default:
		}
		select {
		case dest <- upd:
			return nil
		case <-stop:
			return ErrWebhookStopped
		case <-reqCtx.Done():
			return reqCtx.Err()
		}
	}

	srv := &http.Server{
		Addr: p.Addr(),
		Handler: NewWebhookHandler(WebhookHandlerOptions{
			Path:        p.opts.Path,
			SecretToken: p.opts.SecretToken,
		}, sink),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "webhook", "listen.fail",
				slog.String("listen", p.Addr()),
				slog.String("err", err.Error()),
			)
			p.fail(fmt.Errorf("telegram: webhook listener: %w", err))
		}
	}()
	logger.Info(ctx, "webhook", "listen.start",
		slog.String("listen", p.Addr()),
		slog.String("path", p.opts.Path),
		slog.String("public_url", p.PublicURL()),
	)

	<-stop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), webhookShutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "webhook", "listen.shutdown", slog.String("err", err.Error()))
	}
}
