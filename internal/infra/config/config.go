package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv   string `envconfig:"APP_ENV" default:"prod"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Port     int    `envconfig:"PORT" default:"8080"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`

	Mastodon struct {
		BaseURL     string        `envconfig:"MASTODON_BASE_URL"`
		AccessToken string        `envconfig:"MASTODON_ACCESS_TOKEN"`
		Timeout     time.Duration `envconfig:"MASTODON_TIMEOUT" default:"30s"`
		UserAgent   string        `envconfig:"MASTODON_USER_AGENT" default:"masto-digest/0.1.0"`
	} `envconfig:""`

	Fetch struct {
		SinceHours         int `envconfig:"SINCE_HOURS" default:"24"`
		MaxProfileStatuses int `envconfig:"MAX_PROFILE_STATUSES" default:"500"`
		MaxProfileAgeDays  int `envconfig:"MAX_PROFILE_AGE_DAYS" default:"92"`
		PageSize           int `envconfig:"PAGE_SIZE" default:"40"`
	} `envconfig:""`

	DB struct {
		Driver string `envconfig:"DB_DRIVER" default:"sqlite"`
		Path   string `envconfig:"DB_PATH" default:"masto-digest.db"`
		PGDSN  string `envconfig:"PG_DSN"`
	} `envconfig:""`

	LLM struct {
		Provider      string        `envconfig:"LLM_PROVIDER" default:"openai"`
		Model         string        `envconfig:"LLM_MODEL" default:"gpt-4o"`
		Temperature   float64       `envconfig:"LLM_TEMPERATURE" default:"0.7"`
		MaxTokens     int           `envconfig:"LLM_MAX_TOKENS" default:"1000"`
		APIKey        string        `envconfig:"LLM_API_KEY"`
		BaseURL       string        `envconfig:"LLM_BASE_URL"`
		Timeout       time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
		PromptVersion string        `envconfig:"PROMPT_VERSION" default:"1.0"`
	} `envconfig:""`

	Cache struct {
		RedisAddr string        `envconfig:"REDIS_ADDR"`
		TTL       time.Duration `envconfig:"GENERATION_CACHE_TTL" default:"720h"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения, предварительно подхватив .env, если он есть.
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("чтение .env: %w", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("не удалось загрузить конфиг: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений.
func (c AppConfig) Validate() error {
	switch strings.ToLower(c.DB.Driver) {
	case "sqlite":
		if c.DB.Path == "" {
			return errors.New("config: DB_PATH пуст")
		}
	case "postgres":
		if c.DB.PGDSN == "" {
			return errors.New("config: для DB_DRIVER=postgres нужен PG_DSN")
		}
	default:
		return fmt.Errorf("config: неизвестный DB_DRIVER %q", c.DB.Driver)
	}
	if c.Fetch.PageSize <= 0 {
		return errors.New("config: PAGE_SIZE должен быть положительным")
	}
	if c.Fetch.MaxProfileStatuses <= 0 {
		return errors.New("config: MAX_PROFILE_STATUSES должен быть положительным")
	}
	if c.Fetch.MaxProfileAgeDays <= 0 {
		return errors.New("config: MAX_PROFILE_AGE_DAYS должен быть положительным")
	}
	return nil
}
