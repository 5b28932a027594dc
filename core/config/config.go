package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/petclub/wabot/core/database"
	"github.com/petclub/wabot/core/logger"
)

// WhatsAppConfig holds WhatsApp Cloud API settings.
type WhatsAppConfig struct {
	Token        string `yaml:"token" envconfig:"WHATSAPP_TOKEN"`
	VerifyToken  string `yaml:"verify_token" envconfig:"WHATSAPP_VERIFY_TOKEN"`
	GraphVersion string `yaml:"graph_version" envconfig:"WHATSAPP_GRAPH_VERSION"`
	// BaseURL overrides the Graph API host; used by tests and proxies.
	BaseURL string `yaml:"base_url" envconfig:"WHATSAPP_BASE_URL"`
}

// ServerConfig specifies the webhook HTTP server settings.
type ServerConfig struct {
	Listen      string `yaml:"listen" envconfig:"SERVER_LISTEN"`
	WebhookPath string `yaml:"webhook_path" envconfig:"SERVER_WEBHOOK_PATH"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
	Dir     string `yaml:"dir"`
	File    string `yaml:"file"`
}

// ConversationConfig controls session lifetimes.
type ConversationConfig struct {
	FlowTTLMinutes int `yaml:"flow_ttl_minutes" envconfig:"FLOW_TTL_MINUTES"`
	MenuTTLMinutes int `yaml:"menu_ttl_minutes" envconfig:"MENU_TTL_MINUTES"`
	// GreetingWindowMinutes separates the "welcome back" greeting from the
	// "again so soon" one based on the user's last conversation activity.
	GreetingWindowMinutes int `yaml:"greeting_window_minutes" envconfig:"GREETING_WINDOW_MINUTES"`
}

// Config aggregates all application configuration.
type Config struct {
	WhatsApp     WhatsAppConfig     `yaml:"whatsapp"`
	Server       ServerConfig       `yaml:"server"`
	Database     database.Config    `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
	Conversation ConversationConfig `yaml:"conversation"`
	Messages     Messages           `yaml:"messages"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.WhatsApp.Token) == "" {
		return fmt.Errorf("whatsapp.token is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.VerifyToken) == "" {
		return fmt.Errorf("whatsapp.verify_token is required")
	}
	if cfg.WhatsApp.GraphVersion == "" {
		cfg.WhatsApp.GraphVersion = "v22.0"
	}
	if cfg.WhatsApp.BaseURL == "" {
		cfg.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	cfg.WhatsApp.BaseURL = strings.TrimRight(cfg.WhatsApp.BaseURL, "/")

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":3000"
	}
	if cfg.Server.WebhookPath == "" {
		cfg.Server.WebhookPath = "/webhook"
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		return fmt.Errorf("server.webhook_path must start with '/', got %q", cfg.Server.WebhookPath)
	}

	if cfg.Conversation.FlowTTLMinutes == 0 {
		cfg.Conversation.FlowTTLMinutes = 10
	}
	if cfg.Conversation.MenuTTLMinutes == 0 {
		cfg.Conversation.MenuTTLMinutes = 10
	}
	if cfg.Conversation.GreetingWindowMinutes == 0 {
		cfg.Conversation.GreetingWindowMinutes = 10
	}
	if cfg.Conversation.FlowTTLMinutes < 0 || cfg.Conversation.MenuTTLMinutes < 0 {
		return fmt.Errorf("conversation TTLs must be positive")
	}

	cfg.Messages.ApplyDefaults()
	return nil
}

// LoggerSettings converts the logging section into logger init settings.
func (c *Config) LoggerSettings() logger.Settings {
	return logger.Settings{
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		Profile: c.Logging.Profile,
		Dir:     c.Logging.Dir,
		File:    c.Logging.File,
	}
}
