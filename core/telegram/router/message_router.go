package router

import (
	"time"

	tg "github.com/m3rciful/agentbot/core/telegram"
	"github.com/m3rciful/agentbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Sink takes over an incoming message. It should return quickly; heavy work
// belongs to whoever the sink hands the message to.
type Sink func(c tele.Context) error

// TextRoutes sends text messages and everything a user can post instead of
// text (media, contacts, locations) to the sink under one handler name.
func TextRoutes(sink Sink) []tg.Route {
	if sink == nil {
		return nil
	}
	text := func(c tele.Context) error {
		return handleWithSummary(c, "text", time.Now(), "", "", func() error { return sink(c) })
	}
	other := func(c tele.Context) error {
		return handleWithSummary(c, "non_text", time.Now(), "", "", func() error { return sink(c) })
	}
	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(text)},
		{Endpoint: tele.OnMedia, Handler: wrap(other)},
		{Endpoint: tele.OnContact, Handler: wrap(other)},
		{Endpoint: tele.OnLocation, Handler: wrap(other)},
	}
}
