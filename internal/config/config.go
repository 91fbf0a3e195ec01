// Package config loads gateway settings from the environment and an optional
// .env file using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	WhatsApp WhatsAppConfig
	Auth     AuthConfig
	Webhook  WebhookConfig
	Session  SessionConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadSize   int64
	AllowedOrigins  []string
}

type WhatsAppConfig struct {
	DefaultCountry string
	// QRTerminal prints each pairing code on stdout as well.
	QRTerminal  bool
	QRImageSize int
}

type AuthConfig struct {
	APIKey string
}

type WebhookConfig struct {
	// DefaultURL is used when start omits webhookUrl.
	DefaultURL  string
	Secret      string
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

type SessionConfig struct {
	// AuthDir holds one session-<tenant> credential directory per tenant.
	AuthDir            string
	PairingTimeout     time.Duration
	Restore            bool
	RestoreConcurrency int
}

type LogConfig struct {
	Level string
}

// Load reads .env (if present), then the environment. Env vars win over .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("SERVER_PORT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("SERVER_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			MaxUploadSize:   v.GetInt64("MAX_UPLOAD_SIZE"),
			AllowedOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		WhatsApp: WhatsAppConfig{
			DefaultCountry: v.GetString("WHATSAPP_DEFAULT_COUNTRY"),
			QRTerminal:     v.GetBool("WHATSAPP_QR_TERMINAL"),
			QRImageSize:    v.GetInt("QR_IMAGE_SIZE"),
		},
		Auth: AuthConfig{
			APIKey: v.GetString("API_KEY"),
		},
		Webhook: WebhookConfig{
			DefaultURL:  v.GetString("WEBHOOK_URL"),
			Secret:      v.GetString("WEBHOOK_SECRET"),
			MaxAttempts: v.GetInt("WEBHOOK_MAX_ATTEMPTS"),
			BaseDelay:   v.GetDuration("WEBHOOK_BASE_DELAY"),
			Timeout:     v.GetDuration("WEBHOOK_TIMEOUT"),
		},
		Session: SessionConfig{
			AuthDir:            v.GetString("SESSION_AUTH_DIR"),
			PairingTimeout:     v.GetDuration("SESSION_PAIRING_TIMEOUT"),
			Restore:            v.GetBool("SESSION_RESTORE"),
			RestoreConcurrency: v.GetInt("SESSION_RESTORE_CONCURRENCY"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 45*time.Second)
	v.SetDefault("SERVER_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("MAX_UPLOAD_SIZE", int64(50<<20)) // 50MB
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("WHATSAPP_DEFAULT_COUNTRY", "62")
	v.SetDefault("WHATSAPP_QR_TERMINAL", false)
	v.SetDefault("QR_IMAGE_SIZE", 256)

	v.SetDefault("API_KEY", "")

	v.SetDefault("WEBHOOK_URL", "")
	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("WEBHOOK_MAX_ATTEMPTS", 3)
	v.SetDefault("WEBHOOK_BASE_DELAY", 2*time.Second)
	v.SetDefault("WEBHOOK_TIMEOUT", 10*time.Second)

	v.SetDefault("SESSION_AUTH_DIR", "./sessions")
	v.SetDefault("SESSION_PAIRING_TIMEOUT", 30*time.Second)
	v.SetDefault("SESSION_RESTORE", true)
	v.SetDefault("SESSION_RESTORE_CONCURRENCY", 4)

	v.SetDefault("LOG_LEVEL", "info")
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Auth.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.Session.AuthDir == "" {
		return fmt.Errorf("SESSION_AUTH_DIR is required")
	}
	if c.Session.PairingTimeout <= 0 {
		return fmt.Errorf("SESSION_PAIRING_TIMEOUT must be positive")
	}
	if c.Webhook.MaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	if c.Session.RestoreConcurrency < 1 {
		c.Session.RestoreConcurrency = 1
	}
	if c.WhatsApp.QRImageSize <= 0 {
		c.WhatsApp.QRImageSize = 256
	}
	return nil
}
