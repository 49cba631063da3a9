// ============================================================================
// jobwatch Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Load the YAML config file, overlay secrets from the environment
//          (optionally from a .env file), apply defaults and validate.
//
// Precedence (highest first):
//   1. environment variables (TG_BOT_TOKEN, ALLOWED_CHAT_IDS, QBITTORRENT_*,
//      TMDB_API_KEY, JOBWATCH_INIT_DATA, JOBWATCH_CHAT_ID, MQTT_PASSWORD)
//   2. the YAML file (default configs/jobwatch.yaml)
//   3. built-in defaults
//
// Secrets are never required to live in the YAML file.
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file the CLI reads when --config is not given.
const DefaultPath = "configs/jobwatch.yaml"

// Config is the complete jobwatch configuration.
type Config struct {
	Server struct {
		HTTPAddr        string        `yaml:"http_addr"`
		GRPCAddr        string        `yaml:"grpc_addr"` // empty disables the gRPC channel
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Poll struct {
		Interval     time.Duration `yaml:"interval"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
	} `yaml:"poll"`

	Source struct {
		Kind        string        `yaml:"kind"` // qbittorrent | simulated
		URL         string        `yaml:"url"`
		Username    string        `yaml:"username"`
		Password    string        `yaml:"password"`
		Timeout     time.Duration `yaml:"timeout"`
		FailureRate float64       `yaml:"failure_rate"` // simulated only
	} `yaml:"source"`

	Auth struct {
		BotToken       string        `yaml:"bot_token"`
		AllowedChatIDs []int64       `yaml:"allowed_chat_ids"`
		MaxAge         time.Duration `yaml:"max_age"`
	} `yaml:"auth"`

	Enrich struct {
		Enabled          bool          `yaml:"enabled"`
		APIKey           string        `yaml:"api_key"`
		BaseURL          string        `yaml:"base_url"`
		CacheDir         string        `yaml:"cache_dir"`
		MaxRemotePerPoll int           `yaml:"max_remote_per_poll"`
		HitTTL           time.Duration `yaml:"hit_ttl"`
		MissTTL          time.Duration `yaml:"miss_ttl"`
	} `yaml:"enrich"`

	MQTT struct {
		Enabled  bool   `yaml:"enabled"`
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
		Topic    string `yaml:"topic"`
		QoS      byte   `yaml:"qos"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"mqtt"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`

	Client struct {
		ServerURL   string        `yaml:"server_url"` // http(s)://host:port
		GRPCAddr    string        `yaml:"grpc_addr"`
		Transport   string        `yaml:"transport"` // ws | grpc
		InitData    string        `yaml:"init_data"`
		ChatID      string        `yaml:"chat_id"`
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	} `yaml:"client"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (skipped when empty), overlays the environment, applies
// defaults and validates. A .env file in the working directory is loaded
// first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Auth.BotToken, "TG_BOT_TOKEN")
	set(&c.Source.URL, "QBITTORRENT_URL")
	set(&c.Source.Username, "QBITTORRENT_USERNAME")
	set(&c.Source.Password, "QBITTORRENT_PASSWORD")
	set(&c.Enrich.APIKey, "TMDB_API_KEY")
	set(&c.Client.InitData, "JOBWATCH_INIT_DATA")
	set(&c.Client.ChatID, "JOBWATCH_CHAT_ID")
	set(&c.MQTT.Password, "MQTT_PASSWORD")

	if raw, ok := lookup("ALLOWED_CHAT_IDS"); ok && strings.TrimSpace(raw) != "" {
		ids, err := ParseChatIDs(raw)
		if err != nil {
			return fmt.Errorf("ALLOWED_CHAT_IDS: %w", err)
		}
		c.Auth.AllowedChatIDs = ids
	}
	return nil
}

// ParseChatIDs parses a comma separated list of chat ids.
func ParseChatIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.PingInterval <= 0 {
		c.Server.PingInterval = 30 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 2 * time.Second
	}
	if c.Poll.FetchTimeout <= 0 {
		c.Poll.FetchTimeout = c.Poll.Interval
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "qbittorrent"
	}
	if c.Source.Timeout <= 0 {
		c.Source.Timeout = 10 * time.Second
	}
	if c.Enrich.CacheDir == "" {
		c.Enrich.CacheDir = "data/enrich-cache"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "jobwatch/snapshot"
	}
	if c.Client.ServerURL == "" {
		c.Client.ServerURL = "http://localhost:8080"
	}
	if c.Client.Transport == "" {
		c.Client.Transport = "ws"
	}
	if c.Client.MaxAttempts <= 0 {
		c.Client.MaxAttempts = 5
	}
	if c.Client.BaseDelay <= 0 {
		c.Client.BaseDelay = time.Second
	}
	if c.Client.MaxDelay <= 0 {
		c.Client.MaxDelay = 5 * time.Second
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "qbittorrent":
		if c.Source.URL == "" {
			return errors.New("source.url (or QBITTORRENT_URL) is required for the qbittorrent source")
		}
	case "simulated":
		if c.Source.FailureRate < 0 || c.Source.FailureRate > 1 {
			return fmt.Errorf("source.failure_rate must be within [0,1], got %v", c.Source.FailureRate)
		}
	default:
		return fmt.Errorf("unknown source.kind %q", c.Source.Kind)
	}
	switch c.Client.Transport {
	case "ws", "grpc":
	default:
		return fmt.Errorf("unknown client.transport %q", c.Client.Transport)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Client.MaxDelay < c.Client.BaseDelay {
		return errors.New("client.max_delay must not be below client.base_delay")
	}
	return nil
}

// EnrichEnabled reports whether metadata lookups should run.
func (c *Config) EnrichEnabled() bool {
	return c.Enrich.Enabled && c.Enrich.APIKey != ""
}
