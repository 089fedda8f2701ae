// Package config loads the service configuration from YAML with environment
// overrides for secrets and addresses.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/creastat/craftbot"
)

// Config represents the craftbot configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Session  SessionConfig  `yaml:"session"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Store    StoreConfig    `yaml:"store"`
	Assets   AssetsConfig   `yaml:"assets"`
	Supabase SupabaseConfig `yaml:"supabase"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Image    ImageConfig    `yaml:"image"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	UploadLimit int64  `yaml:"upload_limit"` // bytes
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SessionConfig holds the session lifecycle tunables.
type SessionConfig struct {
	IdleWindow   time.Duration `yaml:"idle_window"`
	MemoryWindow int           `yaml:"memory_window"`
	// MemoryTokenBudget caps the estimated tokens of the prompt transcript.
	// 0 bounds it by MemoryWindow only.
	MemoryTokenBudget int `yaml:"memory_token_budget"`
	MaxMessages       int `yaml:"max_messages"` // 0 keeps every message
}

// CleanupConfig holds the sweep tunables.
type CleanupConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// StoreConfig selects the session store driver.
type StoreConfig struct {
	Driver     string      `yaml:"driver"` // memory, redis, sqlite, supabase
	SQLitePath string      `yaml:"sqlite_path"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis driver.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"` // 0 keeps records indefinitely
}

// AssetsConfig selects where images are stored.
type AssetsConfig struct {
	Driver       string `yaml:"driver"` // local, supabase
	Root         string `yaml:"root"`
	PublicPrefix string `yaml:"public_prefix"`
}

// SupabaseConfig configures the Supabase project used by the supabase store
// and asset drivers.
type SupabaseConfig struct {
	URL           string `yaml:"url"`
	APIKey        string `yaml:"-"`
	SessionsTable string `yaml:"sessions_table"`
	Bucket        string `yaml:"bucket"`
}

// OpenAIConfig configures the language model client.
type OpenAIConfig struct {
	APIKey         string        `yaml:"-"`
	BaseURL        string        `yaml:"base_url"`
	ChatModel      string        `yaml:"chat_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ImageConfig configures the illustration generator.
type ImageConfig struct {
	Provider        string        `yaml:"provider"` // http, openai
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"-"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxPromptLength int           `yaml:"max_prompt_length"`
}

// QdrantConfig configures tutorial search. An empty URL disables it.
type QdrantConfig struct {
	URL          string  `yaml:"url"`
	APIKey       string  `yaml:"-"`
	Collection   string  `yaml:"collection"`
	MinScore     float32 `yaml:"min_score"`
	LinksPerIdea int     `yaml:"links_per_idea"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			UploadLimit: 10 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			IdleWindow:   60 * time.Minute,
			MemoryWindow: craftbot.MemoryWindow,
		},
		Cleanup: CleanupConfig{
			Interval:  60 * time.Second,
			BatchSize: 100,
		},
		Store: StoreConfig{
			Driver:     "memory",
			SQLitePath: "data/sessions.db",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "craftbot:",
			},
		},
		Assets: AssetsConfig{
			Driver:       "local",
			Root:         "data/uploads/chatbot",
			PublicPrefix: "/uploads/chatbot",
		},
		Supabase: SupabaseConfig{
			SessionsTable: "chat_sessions",
			Bucket:        "chat-images",
		},
		OpenAI: OpenAIConfig{
			ChatModel:      "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        90 * time.Second,
		},
		Image: ImageConfig{
			Provider:        "openai",
			Model:           "dall-e-3",
			Timeout:         60 * time.Second,
			MaxPromptLength: 500,
		},
		Qdrant: QdrantConfig{
			Collection:   "craft_tutorials",
			MinScore:     0.45,
			LinksPerIdea: 1,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and addresses from the environment. Secrets are
// never read from the file.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.Store.Redis.Addr, "CRAFTBOT_REDIS_ADDR")
	set(&c.Store.Redis.Password, "CRAFTBOT_REDIS_PASSWORD")
	set(&c.Supabase.URL, "CRAFTBOT_SUPABASE_URL")
	set(&c.Supabase.APIKey, "CRAFTBOT_SUPABASE_KEY")
	set(&c.Qdrant.URL, "CRAFTBOT_QDRANT_URL")
	set(&c.Qdrant.APIKey, "CRAFTBOT_QDRANT_API_KEY")
	set(&c.Image.APIKey, "CRAFTBOT_IMAGE_API_KEY")
	set(&c.Server.Addr, "CRAFTBOT_ADDR")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{craftbot.ErrInvalidConfig}, args...)...))
	}

	if c.Session.IdleWindow <= 0 {
		invalid("session.idle_window must be positive")
	}
	if c.Session.MemoryWindow <= 0 {
		invalid("session.memory_window must be positive")
	}
	if c.Session.MemoryTokenBudget < 0 {
		invalid("session.memory_token_budget must not be negative")
	}
	if c.Session.MaxMessages < 0 {
		invalid("session.max_messages must not be negative")
	}
	if c.Cleanup.Interval <= 0 {
		invalid("cleanup.interval must be positive")
	}
	if c.Cleanup.BatchSize <= 0 {
		invalid("cleanup.batch_size must be positive")
	}
	if c.Server.UploadLimit <= 0 {
		invalid("server.upload_limit must be positive")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		invalid("%v", err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		invalid("log.format %q is not text or json", f)
	}

	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			invalid("store.redis.addr is required")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			invalid("store.sqlite_path is required")
		}
	case "supabase":
		c.requireSupabase(invalid, "store")
	default:
		invalid("store.driver %q is not memory, redis, sqlite or supabase", c.Store.Driver)
	}

	switch c.Assets.Driver {
	case "local":
		if c.Assets.Root == "" {
			invalid("assets.root is required")
		}
		if !strings.HasPrefix(c.Assets.PublicPrefix, "/") {
			invalid("assets.public_prefix must start with /")
		}
	case "supabase":
		c.requireSupabase(invalid, "assets")
	default:
		invalid("assets.driver %q is not local or supabase", c.Assets.Driver)
	}

	switch c.Image.Provider {
	case "openai":
	case "http":
		if c.Image.Endpoint == "" {
			invalid("image.endpoint is required for the http provider")
		}
	default:
		invalid("image.provider %q is not openai or http", c.Image.Provider)
	}
	if c.Image.MaxPromptLength <= 0 {
		invalid("image.max_prompt_length must be positive")
	}

	return errors.Join(errs...)
}

func (c *Config) requireSupabase(invalid func(string, ...any), section string) {
	if c.Supabase.URL == "" {
		invalid("%s.driver supabase needs supabase.url", section)
	}
	if c.Supabase.APIKey == "" {
		invalid("%s.driver supabase needs CRAFTBOT_SUPABASE_KEY", section)
	}
}

// SlogLevel converts the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q is not debug, info, warn or error", l.Level)
	}
	return level, nil
}
