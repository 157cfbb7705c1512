package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type PaymentConfig struct {
	UPIAddress      string        `mapstructure:"upi_address" validate:"required"`
	UPIName         string        `mapstructure:"upi_name" validate:"required"`
	SessionDuration time.Duration `mapstructure:"session_duration"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type LedgerConfig struct {
	HistoryURL     string        `mapstructure:"history_url" validate:"required,url"`
	AuthCheckURL   string        `mapstructure:"auth_check_url" validate:"required,url"`
	CookiesFile    string        `mapstructure:"cookies_file"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds the configuration from environment variables only,
// for container deployments without a config file.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 3001),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:3001"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 0),
		},
		Payment: PaymentConfig{
			UPIAddress:      getEnv("UPI_ADDRESS", ""),
			UPIName:         getEnv("UPI_NAME", ""),
			SessionDuration: getEnvAsDuration("PAYMENT_SESSION_DURATION", 300*time.Second),
			PollInterval:    getEnvAsDuration("PAYMENT_POLL_INTERVAL", 5*time.Second),
		},
		Ledger: LedgerConfig{
			HistoryURL:     getEnv("LEDGER_HISTORY_URL", ""),
			AuthCheckURL:   getEnv("LEDGER_AUTH_CHECK_URL", ""),
			CookiesFile:    getEnv("LEDGER_COOKIES_FILE", "cookies.txt"),
			RequestTimeout: getEnvAsDuration("LEDGER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.Ledger.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("ledger config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *PaymentConfig) Validate() error {
	if c.UPIAddress == "" {
		return errors.New("upi_address is required")
	}
	if c.UPIName == "" {
		return errors.New("upi_name is required")
	}
	if c.SessionDuration < 0 {
		return errors.New("session_duration cannot be negative")
	}
	if c.PollInterval < 0 {
		return errors.New("poll_interval cannot be negative")
	}
	return nil
}

func (c *LedgerConfig) Validate() error {
	for name, raw := range map[string]string{
		"history_url":    c.HistoryURL,
		"auth_check_url": c.AuthCheckURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s is required", name)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", name, raw)
		}
	}
	return nil
}
