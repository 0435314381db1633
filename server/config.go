package main

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/you/sqlbridge/internal/query"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PG_HOST"`
	PGPort      string `env:"PG_PORT" envDefault:"5432"`
	PGDBName    string `env:"PG_DBNAME"`
	PGUser      string `env:"PG_UNAME"`
	PGPassword  string `env:"PG_PASSWD"`
	PGSSL       bool   `env:"PG_SSL" envDefault:"false"`

	Schema   string        `env:"DB_SCHEMA" envDefault:"public"`
	MaxConns int32         `env:"DB_MAX_CONNS" envDefault:"8"`
	QueryTO  time.Duration `env:"QUERY_TIMEOUT" envDefault:"25s"`
	MaxRows  int           `env:"MAX_ROWS" envDefault:"1000"`
	SQLGuard string        `env:"SQL_GUARD" envDefault:"warn"`

	LLMProvider  string        `env:"LLM_PROVIDER" envDefault:"gemini"`
	GeminiKey    string        `env:"GEMINI_API_KEY"`
	GeminiModel  string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	OpenAIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIModel  string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBase   string        `env:"OPENAI_BASE_URL"`
	LLMTimeout   time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	SlackWebhook string        `env:"SLACK_WEBHOOK_URL"`

	ConfigAPIBase   string `env:"CONFIG_API_BASE_URL"`
	ConfigAPIKey    string `env:"CONFIG_API_KEY"`
	PlatformAPIBase string `env:"PLATFORM_API_BASE_URL"`
	ContextDir      string `env:"CONTEXT_DIR"`

	Transport  string `env:"MCP_TRANSPORT" envDefault:"stdio"`
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	HTTPPath   string `env:"HTTP_PATH" envDefault:"/mcp/sse"`
	StreamPath string `env:"HTTP_STREAM_PATH" envDefault:"/mcp"`
	Bearer     string `env:"AUTH_BEARER"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	guard query.GuardMode
}

// Validate checks if the configuration is valid and returns detailed errors
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL or PG_HOST, PG_DBNAME and PG_UNAME are required")
	}

	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	switch c.LLMProvider {
	case "gemini":
		if c.GeminiKey == "" {
			errs = append(errs, "GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIKey == "" {
			errs = append(errs, "OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	default:
		errs = append(errs, fmt.Sprintf("LLM_PROVIDER must be gemini or openai, got %q", c.LLMProvider))
	}

	if c.SlackWebhook == "" {
		errs = append(errs, "SLACK_WEBHOOK_URL is required")
	}

	if c.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be greater than 0")
	}

	if c.MaxRows <= 0 {
		errs = append(errs, "MAX_ROWS must be greater than 0")
	} else if c.MaxRows > 10000 {
		errs = append(errs, "MAX_ROWS cannot exceed 10000 (too many rows could cause memory issues)")
	}

	if c.QueryTO < time.Second {
		errs = append(errs, "QUERY_TIMEOUT must be at least 1 second")
	} else if c.QueryTO > 5*time.Minute {
		errs = append(errs, "QUERY_TIMEOUT cannot exceed 5 minutes")
	}

	mode, err := query.ParseGuardMode(c.SQLGuard)
	if err != nil {
		errs = append(errs, err.Error())
	}
	c.guard = mode

	switch c.Transport {
	case "stdio", "http":
	default:
		errs = append(errs, fmt.Sprintf("MCP_TRANSPORT must be stdio or http, got %q", c.Transport))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// loadConfig reads .env when present, then the environment.
func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = cfg.partsURL()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mustConfig() Config {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// partsURL builds a connection URL from the PG_* variables. It returns ""
// unless host, database and user are all set.
func (c *Config) partsURL() string {
	if c.PGHost == "" || c.PGDBName == "" || c.PGUser == "" {
		return ""
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PGUser, c.PGPassword),
		Host:   net.JoinHostPort(c.PGHost, c.PGPort),
		Path:   "/" + c.PGDBName,
	}
	if c.PGPassword == "" {
		u.User = url.User(c.PGUser)
	}
	q := url.Values{}
	if c.PGSSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// resourceBase roots resource URIs at the connection's user, host and
// database under the postgres scheme. The password never appears.
func resourceBase(cc *pgx.ConnConfig) string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cc.Host, strconv.Itoa(int(cc.Port))),
		Path:   "/" + cc.Database,
	}
	if cc.User != "" {
		u.User = url.User(cc.User)
	}
	return strings.TrimRight(u.String(), "/")
}
