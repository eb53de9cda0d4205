// Package config loads application configuration from an optional
// YAML file overlaid with GRADEWATCH_ environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "GRADEWATCH_"

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Portal    PortalConfig    `koanf:"portal"`
	Bridge    BridgeConfig    `koanf:"bridge"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Notify    NotifyConfig    `koanf:"notify"`
	Store     StoreConfig     `koanf:"store"`
}

// ServerConfig configures the health/metrics HTTP listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	Migrate         bool          `koanf:"migrate"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// PortalConfig points at the remote university portal.
type PortalConfig struct {
	BaseURL       string `koanf:"base_url" validate:"required,url"`
	LoginPath     string `koanf:"login_path"`
	GradesPath    string `koanf:"grades_path"`
	SessionCookie string `koanf:"session_cookie"`
}

// BridgeConfig configures the outbound HTTP runtime.
type BridgeConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	MaxConcurrent int           `koanf:"max_concurrent"`
	CloseTimeout  time.Duration `koanf:"close_timeout"`
	UserAgent     string        `koanf:"user_agent"`
}

// SchedulerConfig configures the cycle clock.
type SchedulerConfig struct {
	Interval     time.Duration `koanf:"interval" validate:"min=1s"`
	CycleTimeout time.Duration `koanf:"cycle_timeout"`
	StopTimeout  time.Duration `koanf:"stop_timeout"`
	LockPath     string        `koanf:"lock_path"`
}

// NotifyConfig configures delivery channels.
type NotifyConfig struct {
	MaxConcurrent int            `koanf:"max_concurrent"`
	SendTimeout   time.Duration  `koanf:"send_timeout"`
	Telegram      TelegramConfig `koanf:"telegram"`
	Webhook       WebhookConfig  `koanf:"webhook"`
	Email         EmailConfig    `koanf:"email"`
}

// TelegramConfig configures the telegram channel.
type TelegramConfig struct {
	Enabled   bool    `koanf:"enabled"`
	BotToken  string  `koanf:"bot_token"`
	RateLimit float64 `koanf:"rate_limit"`
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Username  string        `koanf:"username"`
	AvatarURL string        `koanf:"avatar_url"`
	Timeout   time.Duration `koanf:"timeout"`
}

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// StoreConfig configures credential storage.
type StoreConfig struct {
	// SecretKey is the hex-encoded 32-byte key sealing portal
	// credentials at rest.
	SecretKey string `koanf:"secret_key" validate:"required,len=64,hexadecimal"`
}

// SecretKeyBytes decodes the hex secret key.
func (c StoreConfig) SecretKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("decode store secret key: %w", err)
	}
	return key, nil
}

// defaults returns the baseline configuration values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":                "0.0.0.0",
		"server.port":                "8080",
		"server.metrics_port":        "9090",
		"server.read_timeout":        "15s",
		"server.read_header_timeout": "5s",
		"server.write_timeout":       "15s",
		"server.idle_timeout":        "60s",

		"database.max_open_conns":    10,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "5m",
		"database.connect_timeout":   "30s",
		"database.connect_attempts":  3,
		"database.migrate":           true,

		"log.level":  "info",
		"log.format": "json",

		"portal.login_path":     "auth.php",
		"portal.grades_path":    "api/resource/grades/latest",
		"portal.session_cookie": "PHPSESSID",

		"bridge.timeout":        "30s",
		"bridge.max_concurrent": 32,
		"bridge.close_timeout":  "10s",

		"scheduler.interval":      "2m",
		"scheduler.cycle_timeout": "90s",
		"scheduler.stop_timeout":  "30s",
		"scheduler.lock_path":     ".gradewatch.lock",

		"notify.max_concurrent":     16,
		"notify.send_timeout":       "30s",
		"notify.telegram.rate_limit": 25.0,
		"notify.webhook.timeout":    "10s",
		"notify.email.smtp_port":    587,
	}
}

// Load reads configuration from the optional YAML file at path, then
// overlays environment variables. GRADEWATCH_DATABASE__URL maps to
// database.url: a double underscore separates nesting levels.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// envToKey maps GRADEWATCH_NOTIFY__TELEGRAM__BOT_TOKEN to
// notify.telegram.bot_token.
func envToKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
