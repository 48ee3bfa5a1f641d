package app

import (
	"strings"
	"time"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr включает Redis как хранилище idempotency-ключей.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KafkaBrokers — список брокеров через запятую; пустой отключает Kafka.
	KafkaBrokers        string
	KafkaClientID       string
	KafkaConsumerGroup  string
	KafkaEventsTopic    string
	KafkaCallbacksTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ExpirySweepInterval  time.Duration
	ExpirySweepBatchSize int

	ActivationTimeout time.Duration
	ShutdownTimeout   time.Duration

	LogLevel  string
	LogFormat string
}

// DefaultConfig возвращает настройки для локального запуска на memory-хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaClientID:       "orderflow",
		KafkaConsumerGroup:  "orderflow-payment-callbacks",
		KafkaEventsTopic:    "orderflow.transaction.events",
		KafkaCallbacksTopic: "orderflow.payment.callbacks",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ExpirySweepInterval:  time.Minute,
		ExpirySweepBatchSize: 200,

		ActivationTimeout: 30 * time.Second,
		ShutdownTimeout:   10 * time.Second,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Brokers разбирает KafkaBrokers в список адресов.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
