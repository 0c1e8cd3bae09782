package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DispatchInline = "inline"
	DispatchAMQP   = "amqp"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	DBMaxConns       int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAIOrg     string

	QwenAPIKey     string
	QwenBaseURL    string
	QwenImageModel string

	StoragePath    string
	StorageBaseURL string

	Batch BatchConfig
	Text  TextConfig

	TaskDispatch string
	AMQPURL      string
	AMQPQueue    string

	RedisURL       string
	MetricsEnabled bool
}

// BatchConfig holds defaults for the image batch stage.
type BatchConfig struct {
	Concurrency         int
	ItemTimeout         time.Duration
	MaxRetries          int
	FallbackEnabled     bool
	InterJobDelay       time.Duration
	PlaceholderImageURL string
}

// TextConfig holds defaults for single-shot text generation calls.
type TextConfig struct {
	Timeout    time.Duration
	MaxRetries int
	MaxTokens  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:        os.Getenv("OPENAI_ORG"),
		QwenAPIKey:       os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:      getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenImageModel:   getEnv("QWEN_IMAGE_MODEL", "qwen-image-plus"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		Batch: BatchConfig{
			Concurrency:         getEnvInt("BATCH_CONCURRENCY", 3),
			ItemTimeout:         time.Second * time.Duration(getEnvInt("BATCH_ITEM_TIMEOUT_SECONDS", 90)),
			MaxRetries:          getEnvInt("BATCH_MAX_RETRIES", 2),
			FallbackEnabled:     getEnvBool("BATCH_FALLBACK_ENABLED", true),
			InterJobDelay:       getEnvDuration("BATCH_INTER_JOB_DELAY_MS", time.Millisecond, 0),
			PlaceholderImageURL: os.Getenv("PLACEHOLDER_IMAGE_URL"),
		},
		Text: TextConfig{
			Timeout:    time.Second * time.Duration(getEnvInt("TEXT_TIMEOUT_SECONDS", 60)),
			MaxRetries: getEnvInt("TEXT_MAX_RETRIES", 2),
			MaxTokens:  getEnvInt("TEXT_MAX_TOKENS", 4000),
		},
		TaskDispatch:   strings.ToLower(getEnv("TASK_DISPATCH", DispatchInline)),
		AMQPURL:        os.Getenv("AMQP_URL"),
		AMQPQueue:      getEnv("AMQP_QUEUE", "contentfactory.tasks"),
		RedisURL:       os.Getenv("REDIS_URL"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("DB_MAX_CONNS must be at least 1")
	}
	if cfg.Batch.Concurrency < 1 {
		return nil, fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	if cfg.Batch.MaxRetries < 0 {
		return nil, fmt.Errorf("BATCH_MAX_RETRIES must not be negative")
	}
	if cfg.Batch.ItemTimeout <= 0 {
		return nil, fmt.Errorf("BATCH_ITEM_TIMEOUT_SECONDS must be positive")
	}
	if cfg.Text.MaxRetries < 0 {
		return nil, fmt.Errorf("TEXT_MAX_RETRIES must not be negative")
	}
	switch cfg.TaskDispatch {
	case DispatchInline:
	case DispatchAMQP:
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("AMQP_URL is required when TASK_DISPATCH=amqp")
		}
	default:
		return nil, fmt.Errorf("TASK_DISPATCH must be %q or %q", DispatchInline, DispatchAMQP)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, unit time.Duration, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return time.Duration(i) * unit
		}
	}
	return fallback
}
