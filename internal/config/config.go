// Package config конфигурация демона конвертера.
// Значения читаются из переменных окружения; .env подхватывается
// автоматически, если присутствует рядом с бинарником.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"converter/database"
)

// Config конфигурация демона
type Config struct {
	// Сервер
	ListenAddr string
	AuthToken  string

	// Значения заданий по умолчанию
	DefaultReceiverDB string
	DefaultCatalogDB  string
	DefaultParserName string
	DefaultBatchSize  int
	DefaultMaxBatches int

	// Очередь
	MaxQueueSize int

	// Пулы соединений БД
	DB database.Config

	// Хранилище изображений (опционально)
	StorageBaseURL     string
	StorageAPIToken    string
	StorageTimeout     time.Duration
	StorageFailOnError bool

	// Лимит POST-запросов в секунду; 0 отключает лимитер
	RateLimit float64
	RateBurst int

	LogLevel string
}

// Load загружает конфигурацию из окружения
func Load() (*Config, error) {
	// Отсутствие .env не ошибка: боевое окружение задает переменные напрямую.
	_ = godotenv.Load()

	config := &Config{
		ListenAddr: getEnv("CONVERTER_LISTEN_ADDR", ":8090"),
		AuthToken:  strings.TrimSpace(os.Getenv("CONVERTER_AUTH_TOKEN")),

		DefaultReceiverDB: strings.TrimSpace(os.Getenv("CONVERTER_RECEIVER_DB")),
		DefaultCatalogDB:  strings.TrimSpace(os.Getenv("CONVERTER_CATALOG_DB")),
		DefaultParserName: getEnv("CONVERTER_PARSER_NAME", "fixprice"),
		DefaultBatchSize:  getEnvInt("CONVERTER_BATCH_SIZE", 250),
		DefaultMaxBatches: getEnvInt("CONVERTER_MAX_BATCHES", 0),

		MaxQueueSize: getEnvInt("CONVERTER_MAX_QUEUE_SIZE", 100),

		DB: database.Config{
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 3),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		StorageBaseURL:     strings.TrimSpace(os.Getenv("CONVERTER_STORAGE_URL")),
		StorageAPIToken:    strings.TrimSpace(os.Getenv("CONVERTER_STORAGE_TOKEN")),
		StorageTimeout:     getEnvDuration("CONVERTER_STORAGE_TIMEOUT", 10*time.Second),
		StorageFailOnError: getEnv("CONVERTER_STORAGE_FAIL_ON_ERROR", "false") == "true",

		RateLimit: getEnvFloat("CONVERTER_RATE_LIMIT", 0),
		RateBurst: getEnvInt("CONVERTER_RATE_BURST", 1),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	if c.DefaultBatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.DefaultBatchSize)
	}
	if c.DefaultMaxBatches < 0 {
		return fmt.Errorf("max batches must be non-negative, got %d", c.DefaultMaxBatches)
	}
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("queue size must be positive, got %d", c.MaxQueueSize)
	}
	if c.StorageBaseURL != "" && c.StorageAPIToken == "" {
		return fmt.Errorf("storage token is required when storage url is set")
	}
	return nil
}

// StorageEnabled сообщает, настроено ли хранилище изображений
func (c *Config) StorageEnabled() bool {
	return c.StorageBaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
