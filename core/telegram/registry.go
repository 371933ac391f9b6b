package telegram

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/m3rciful/agentbot/core/logger"
	"github.com/m3rciful/agentbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry holds the bot's menu commands. It is filled during wiring and
// read-only afterwards.
type Registry struct {
	commands map[string]commands.Command
	aliases  map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]commands.Command),
		aliases:  make(map[string]string),
	}
}

// RegisterCommand adds a slash command. Names are stored lower-case.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	name = strings.ToLower(strings.TrimSpace(name))
	if r == nil || name == "" || cmd.Description == "" {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("cause", "invalid"),
		)
		return
	}
	if name[0] != '/' {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("cause", "no_slash_prefix"),
		)
		return
	}
	if _, exists := r.commands[name]; exists {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.duplicate",
			slog.String("name", name),
		)
		return
	}
	r.commands[name] = cmd
	for _, alias := range cmd.Aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		if owner, taken := r.aliases[alias]; taken {
			logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.alias.duplicate",
				slog.String("name", name),
				slog.String("payload", alias),
				slog.String("cause", owner),
			)
			continue
		}
		r.aliases[alias] = name
	}
}

// ListCommands returns commands sorted by name, optionally without hidden ones.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	list := make([]tele.Command, 0, len(r.commands))
	for name, meta := range r.commands {
		if visibleOnly && meta.Hidden {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// LookupCommand resolves text to a registered command. Aliases match the
// exact text; slash commands match the whole text case-insensitively with
// an optional "@botname" suffix. Text after the command is not a match.
func (r *Registry) LookupCommand(text string) (string, commands.Command, bool) {
	if r == nil {
		return "", commands.Command{}, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", commands.Command{}, false
	}
	if name, ok := r.aliases[text]; ok {
		return name, r.commands[name], true
	}
	if text[0] != '/' {
		return "", commands.Command{}, false
	}
	if strings.ContainsAny(text, " \t\n") {
		return "", commands.Command{}, false
	}
	name, _, _ := strings.Cut(text, "@")
	name = strings.ToLower(name)
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	return "", commands.Command{}, false
}

// Commands returns a copy of the registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	out := make(map[string]commands.Command, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// commandSetter is satisfied by *tele.Bot.
type commandSetter interface {
	SetCommands(opts ...any) error
}

// InitBotCommands publishes visible commands to the Telegram menu.
func InitBotCommands(bot commandSetter, reg *Registry) error {
	if reg == nil {
		return nil
	}
	list := reg.ListCommands(true)
	if len(list) == 0 {
		return nil
	}
	if err := bot.SetCommands(list); err != nil {
		logger.TWire.LogAttrs(context.Background(), slog.LevelError, "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
		return err
	}
	logger.TWire.LogAttrs(context.Background(), slog.LevelInfo, "register.commands.set",
		slog.Int("count", len(list)),
	)
	return nil
}
