package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Port           int
	DBDriver       string
	DatabaseURL    string
	JWTSecret      string
	DefaultAdminID int64
	AllowedOrigins []string
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	LogLevel       slog.Level
	LogFormat      string
}

// Defaults, keyed by environment variable name
var defaults = map[string]interface{}{
	"PORT":             8080,
	"DB_DRIVER":        "sqlite3",
	"DATABASE_URL":     "file:chat.db?_busy_timeout=5000",
	"JWT_SECRET":       "",
	"DEFAULT_ADMIN_ID": 0,
	"ALLOWED_ORIGINS":  "*",
	"SEND_BUFFER":      256,
	"MAX_MESSAGE_SIZE": 1 << 20,
	"WRITE_WAIT":       "10s",
	"PONG_WAIT":        "60s",
	"LOG_LEVEL":        "info",
	"LOG_FORMAT":       "text",
}

// Flags registers command-line overrides. Flag names are the lower-case,
// dashed form of the environment variable.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("communitychat", pflag.ContinueOnError)
	fs.Int("port", 0, "HTTP listen port (PORT)")
	fs.String("db-driver", "", "database driver: sqlite3 or postgres (DB_DRIVER)")
	fs.String("database-url", "", "database DSN (DATABASE_URL)")
	fs.Int64("default-admin-id", 0, "admin residents are routed to (DEFAULT_ADMIN_ID)")
	fs.String("allowed-origins", "", "comma separated WebSocket origins, * for any (ALLOWED_ORIGINS)")
	fs.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	fs.String("log-format", "", "text or json (LOG_FORMAT)")
	return fs
}

// Load reads .env (if any), the environment, then flags set in fs.
// fs may be nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	// a missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if !f.Changed {
				return
			}
			key := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return Config{}, bindErr
		}
	}

	cfg := Config{
		Port:           v.GetInt("PORT"),
		DBDriver:       v.GetString("DB_DRIVER"),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		DefaultAdminID: v.GetInt64("DEFAULT_ADMIN_ID"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		SendBuffer:     v.GetInt("SEND_BUFFER"),
		MaxMessageSize: v.GetInt64("MAX_MESSAGE_SIZE"),
		WriteWait:      v.GetDuration("WRITE_WAIT"),
		PongWait:       v.GetDuration("PONG_WAIT"),
		LogFormat:      strings.ToLower(v.GetString("LOG_FORMAT")),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.DBDriver != "sqlite3" && c.DBDriver != "postgres" {
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Addr is the listen address
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
