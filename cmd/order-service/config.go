package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/orderflow/internal/app"
)

const envPrefix = "ORDERFLOW"

// Ключи конфигурации. В окружении: ORDERFLOW_ + ключ с '_' вместо '.'.
const (
	keyGRPCAddr                    = "grpc.addr"
	keyHTTPAddr                    = "http.addr"
	keyMetricsAddr                 = "metrics.addr"
	keyStorageDriver               = "storage.driver"
	keyPostgresDSN                 = "postgres.dsn"
	keyPostgresAutoMigrate         = "postgres.auto_migrate"
	keyRedisAddr                   = "redis.addr"
	keyRedisPassword               = "redis.password"
	keyRedisDB                     = "redis.db"
	keyKafkaBrokers                = "kafka.brokers"
	keyKafkaClientID               = "kafka.client_id"
	keyKafkaConsumerGroup          = "kafka.consumer_group"
	keyKafkaEventsTopic            = "kafka.events_topic"
	keyKafkaCallbacksTopic         = "kafka.callbacks_topic"
	keyOutboxPollInterval          = "outbox.poll_interval"
	keyOutboxBatchSize             = "outbox.batch_size"
	keyOutboxMaxAttempts           = "outbox.max_attempts"
	keyOutboxRetryDelay            = "outbox.retry_delay"
	keyIdempotencyCleanupInterval  = "idempotency.cleanup_interval"
	keyIdempotencyCleanupBatchSize = "idempotency.cleanup_batch_size"
	keyExpirySweepInterval         = "expiry.sweep_interval"
	keyExpirySweepBatchSize        = "expiry.batch_size"
	keyActivationTimeout           = "activation.timeout"
	keyShutdownTimeout             = "shutdown.timeout"
	keyLogLevel                    = "log.level"
	keyLogFormat                   = "log.format"
)

// newViper создаёт viper с дефолтами сервиса и чтением окружения.
func newViper() *viper.Viper {
	def := app.DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyGRPCAddr, def.GRPCAddr)
	v.SetDefault(keyHTTPAddr, def.HTTPAddr)
	v.SetDefault(keyMetricsAddr, def.MetricsAddr)
	v.SetDefault(keyStorageDriver, def.StorageDriver)
	v.SetDefault(keyPostgresDSN, def.PostgresDSN)
	v.SetDefault(keyPostgresAutoMigrate, def.PostgresAutoMigrate)
	v.SetDefault(keyRedisAddr, def.RedisAddr)
	v.SetDefault(keyRedisPassword, def.RedisPassword)
	v.SetDefault(keyRedisDB, def.RedisDB)
	v.SetDefault(keyKafkaBrokers, def.KafkaBrokers)
	v.SetDefault(keyKafkaClientID, def.KafkaClientID)
	v.SetDefault(keyKafkaConsumerGroup, def.KafkaConsumerGroup)
	v.SetDefault(keyKafkaEventsTopic, def.KafkaEventsTopic)
	v.SetDefault(keyKafkaCallbacksTopic, def.KafkaCallbacksTopic)
	v.SetDefault(keyOutboxPollInterval, def.OutboxPollInterval.String())
	v.SetDefault(keyOutboxBatchSize, def.OutboxBatchSize)
	v.SetDefault(keyOutboxMaxAttempts, def.OutboxMaxAttempts)
	v.SetDefault(keyOutboxRetryDelay, def.OutboxRetryDelay.String())
	v.SetDefault(keyIdempotencyCleanupInterval, def.IdempotencyCleanupInterval.String())
	v.SetDefault(keyIdempotencyCleanupBatchSize, def.IdempotencyCleanupBatchSize)
	v.SetDefault(keyExpirySweepInterval, def.ExpirySweepInterval.String())
	v.SetDefault(keyExpirySweepBatchSize, def.ExpirySweepBatchSize)
	v.SetDefault(keyActivationTimeout, def.ActivationTimeout.String())
	v.SetDefault(keyShutdownTimeout, def.ShutdownTimeout.String())
	v.SetDefault(keyLogLevel, def.LogLevel)
	v.SetDefault(keyLogFormat, def.LogFormat)
	return v
}

// loadConfig читает YAML-файл (если задан) и окружение поверх дефолтов.
// Некорректные числа и длительности не валят запуск: остаётся дефолт, в warnings — причина.
func loadConfig(v *viper.Viper, configFile string) (app.Config, []string, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return app.Config{}, nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := app.DefaultConfig()
	var warnings []string
	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v, using default", key, err))
	}

	cfg.GRPCAddr = strings.TrimSpace(v.GetString(keyGRPCAddr))
	cfg.HTTPAddr = strings.TrimSpace(v.GetString(keyHTTPAddr))
	cfg.MetricsAddr = strings.TrimSpace(v.GetString(keyMetricsAddr))
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v.GetString(keyStorageDriver)))
	cfg.PostgresDSN = strings.TrimSpace(v.GetString(keyPostgresDSN))
	cfg.RedisAddr = strings.TrimSpace(v.GetString(keyRedisAddr))
	cfg.RedisPassword = v.GetString(keyRedisPassword)
	cfg.KafkaBrokers = strings.TrimSpace(v.GetString(keyKafkaBrokers))
	cfg.KafkaClientID = strings.TrimSpace(v.GetString(keyKafkaClientID))
	cfg.KafkaConsumerGroup = strings.TrimSpace(v.GetString(keyKafkaConsumerGroup))
	cfg.KafkaEventsTopic = strings.TrimSpace(v.GetString(keyKafkaEventsTopic))
	cfg.KafkaCallbacksTopic = strings.TrimSpace(v.GetString(keyKafkaCallbacksTopic))
	cfg.LogLevel = strings.TrimSpace(v.GetString(keyLogLevel))
	cfg.LogFormat = strings.TrimSpace(v.GetString(keyLogFormat))

	if value, err := parseBool(v.GetString(keyPostgresAutoMigrate)); err != nil {
		warn(keyPostgresAutoMigrate, err)
	} else {
		cfg.PostgresAutoMigrate = value
	}

	ints := []struct {
		key   string
		dst   *int
		valid func(int) bool
		rule  string
	}{
		{keyRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0"},
		{keyOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0"},
		{keyOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0"},
		{keyIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0"},
		{keyExpirySweepBatchSize, &cfg.ExpirySweepBatchSize, positive, "must be > 0"},
	}
	for _, item := range ints {
		value, err := parseInt(v.GetString(item.key), item.valid, item.rule)
		if err != nil {
			warn(item.key, err)
			continue
		}
		*item.dst = value
	}

	durations := []struct {
		key   string
		dst   *time.Duration
		valid func(time.Duration) bool
		rule  string
	}{
		{keyOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0"},
		{keyOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0"},
		{keyIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0"},
		{keyExpirySweepInterval, &cfg.ExpirySweepInterval, positiveDuration, "must be > 0"},
		{keyActivationTimeout, &cfg.ActivationTimeout, positiveDuration, "must be > 0"},
		{keyShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0"},
	}
	for _, item := range durations {
		value, err := parseDuration(v.GetString(item.key), item.valid, item.rule)
		if err != nil {
			warn(item.key, err)
			continue
		}
		*item.dst = value
	}

	return cfg, warnings, nil
}

func positive(v int) bool                      { return v > 0 }
func nonNegative(v int) bool                   { return v >= 0 }
func positiveDuration(v time.Duration) bool    { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}
