package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/m3rciful/agentbot/agent/dispatch"
	"github.com/m3rciful/agentbot/agent/form"
	"github.com/m3rciful/agentbot/agent/intent"
	coreconfig "github.com/m3rciful/agentbot/core/config"
)

// Session backends.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// OpenAIConfig configures the answer model.
type OpenAIConfig struct {
	APIKey         string  `yaml:"api_key" envconfig:"OPENAI_API_KEY"`
	BaseURL        string  `yaml:"base_url" envconfig:"OPENAI_BASE_URL"`
	Model          string  `yaml:"model" envconfig:"OPENAI_MODEL"`
	SystemPrompt   string  `yaml:"system_prompt"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds" envconfig:"OPENAI_TIMEOUT_SECONDS"`
}

// SessionConfig selects where form sessions live.
type SessionConfig struct {
	Backend    string `yaml:"backend" envconfig:"SESSION_BACKEND"`
	RedisURL   string `yaml:"redis_url" envconfig:"REDIS_URL"`
	Prefix     string `yaml:"prefix"`
	TTLMinutes int    `yaml:"ttl_minutes" envconfig:"SESSION_TTL_MINUTES"`
}

// FormConfig mirrors form.Options.
type FormConfig struct {
	MinNameLength  int    `yaml:"min_name_length"`
	CollectComment bool   `yaml:"collect_comment" envconfig:"FORM_COLLECT_COMMENT"`
	PhoneCharset   string `yaml:"phone_charset"`
}

// AssetsConfig points at the files served by the menu.
type AssetsConfig struct {
	BrochureDir string `yaml:"brochure_dir" envconfig:"BROCHURE_DIR"`
	PhotosDir   string `yaml:"photos_dir" envconfig:"PHOTOS_DIR"`
}

// DispatchConfig tunes the per-user workers.
type DispatchConfig struct {
	MaxPending       int `yaml:"max_pending"`
	DedupeTTLSeconds int `yaml:"dedupe_ttl_seconds"`
	// ShutdownSeconds bounds how long queued turns may finish on stop.
	ShutdownSeconds int `yaml:"shutdown_seconds"`
}

// RedeliveryConfig tunes the failed lead retry loop.
type RedeliveryConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	MaxAttempts     int `yaml:"max_attempts"`
	Batch           int `yaml:"batch"`
}

// LeadsConfig configures where completed forms go.
type LeadsConfig struct {
	ChatID               int64            `yaml:"chat_id" envconfig:"TG_CHAT_LEAD"`
	Title                string           `yaml:"title"`
	NotifyTimeoutSeconds int              `yaml:"notify_timeout_seconds"`
	Redelivery           RedeliveryConfig `yaml:"redelivery"`
}

// TextsConfig overrides user-facing texts; empty values keep the defaults.
type TextsConfig struct {
	Intent   intent.Texts   `yaml:"intent"`
	Form     form.Texts     `yaml:"form"`
	Dispatch dispatch.Texts `yaml:"dispatch"`
}

// Config is the agent bot configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	OpenAI        OpenAIConfig   `yaml:"openai"`
	Session       SessionConfig  `yaml:"session"`
	Form          FormConfig     `yaml:"form"`
	Assets        AssetsConfig   `yaml:"assets"`
	Dispatch      DispatchConfig `yaml:"dispatch"`
	Leads         LeadsConfig    `yaml:"leads"`
	Texts         TextsConfig    `yaml:"texts" ignored:"true"`
	KnowledgeFile string         `yaml:"knowledge_file" envconfig:"KNOWLEDGE_FILE"`
}

// CoreConfig satisfies cmd.ConfigCarrier.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads and validates the configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required settings and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	if cfg.Leads.ChatID == 0 {
		return fmt.Errorf("leads.chat_id (TG_CHAT_LEAD) is required")
	}
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return fmt.Errorf("openai.api_key (OPENAI_API_KEY) is required")
	}
	if cfg.OpenAI.TimeoutSeconds <= 0 {
		cfg.OpenAI.TimeoutSeconds = 30
	}

	switch backend := strings.ToLower(strings.TrimSpace(cfg.Session.Backend)); backend {
	case "", SessionMemory:
		cfg.Session.Backend = SessionMemory
	case SessionRedis:
		if strings.TrimSpace(cfg.Session.RedisURL) == "" {
			return fmt.Errorf("session.redis_url is required for the redis backend")
		}
		cfg.Session.Backend = SessionRedis
	default:
		return fmt.Errorf("invalid session.backend %q; allowed: memory, redis", cfg.Session.Backend)
	}
	if cfg.Session.TTLMinutes < 0 {
		return fmt.Errorf("session.ttl_minutes must be >= 0")
	}

	switch charset := strings.ToLower(strings.TrimSpace(cfg.Form.PhoneCharset)); charset {
	case "":
		cfg.Form.PhoneCharset = form.PhoneDigitsOnly
	case form.PhoneDigitsOnly, form.PhoneInternational:
		cfg.Form.PhoneCharset = charset
	default:
		return fmt.Errorf("invalid form.phone_charset %q; allowed: digits-only, international", cfg.Form.PhoneCharset)
	}
	if cfg.Form.MinNameLength <= 0 {
		cfg.Form.MinNameLength = 1
	}

	if cfg.Assets.BrochureDir == "" {
		cfg.Assets.BrochureDir = "templates"
	}
	if cfg.Assets.PhotosDir == "" {
		cfg.Assets.PhotosDir = "images"
	}

	if cfg.Leads.NotifyTimeoutSeconds <= 0 {
		cfg.Leads.NotifyTimeoutSeconds = 15
	}
	if cfg.Dispatch.ShutdownSeconds <= 0 {
		cfg.Dispatch.ShutdownSeconds = 20
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
