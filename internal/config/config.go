package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	SendGrid SendGridConfig
	SMTP     SMTPConfig
	Google   GoogleConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// GetDSN returns the Postgres connection string (Supabase uses the
// standard libpq format).
func (p *PostgresConfig) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

type SendGridConfig struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// SMTPConfig holds the secondary relay credentials. The relay is optional:
// when Host or User is empty the failover sender runs with the primary
// provider only.
type SMTPConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromEmail string
	TLSMode   string // "auto" | "starttls" | "ssl" | "none"
	Timeout   time.Duration
}

// Configured reports whether the relay has enough credentials to attempt a
// send.
func (s *SMTPConfig) Configured() bool {
	return s.Host != "" && s.User != ""
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     getEnvString("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnvString("POSTGRES_USER", "postgres"),
			Password: getEnvString("POSTGRES_PASSWORD", ""),
			Database: getEnvString("POSTGRES_DATABASE", "outreach"),
			SSLMode:  getEnvString("POSTGRES_SSLMODE", "require"),
		},
		SendGrid: SendGridConfig{
			APIKey:    getEnvString("SENDGRID_API_KEY", ""),
			BaseURL:   getEnvString("SENDGRID_BASE_URL", "https://api.sendgrid.com/v3"),
			FromEmail: getEnvString("SENDGRID_FROM_EMAIL", ""),
			FromName:  getEnvString("SENDGRID_FROM_NAME", ""),
			Timeout:   getEnvDuration("SENDGRID_TIMEOUT", 30*time.Second),
		},
		SMTP: SMTPConfig{
			Host:      getEnvString("SMTP_HOST", ""),
			Port:      getEnvInt("SMTP_PORT", 587),
			User:      getEnvString("SMTP_USER", ""),
			Password:  getEnvString("SMTP_PASSWORD", ""),
			FromEmail: getEnvString("SMTP_FROM_EMAIL", ""),
			TLSMode:   getEnvString("SMTP_TLS_MODE", "auto"),
			Timeout:   getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		},
		Google: GoogleConfig{
			ClientID:     getEnvString("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnvString("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnvString("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/mailbox/oauth/callback"),
			Timeout:      getEnvDuration("GOOGLE_TIMEOUT", 30*time.Second),
		},
	}

	if cfg.SendGrid.APIKey == "" {
		return nil, fmt.Errorf("SENDGRID_API_KEY is required")
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if err := json.Unmarshal([]byte(value), &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
