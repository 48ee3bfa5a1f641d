package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы.
// Пустой список брокеров возвращает nil, nil: сервис работает без Kafka.
func initKafkaProducer(brokers []string, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, clientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initCallbackConsumer подписывается на callbacks платёжного шлюза.
// Необработанные сообщения уходят в DLQ через тот же producer.
func initCallbackConsumer(cfg Config, updater kafka.PaymentUpdater, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, nil
	}

	group, err := kafka.NewConsumerGroup(brokers, cfg.KafkaConsumerGroup)
	if err != nil {
		return nil, err
	}

	topic := cfg.KafkaCallbacksTopic
	if topic == "" {
		topic = kafka.TopicPaymentCallbacks
	}
	consumerLogger := logger.WithField("component", "payment-callback-consumer")
	opts := []kafka.ConsumerOption{kafka.WithConsumerLogger(consumerLogger)}
	if dlq != nil {
		opts = append(opts, kafka.WithDLQ(dlq))
	}

	return kafka.NewConsumer(group, []string{topic}, kafka.PaymentCallbackHandler(updater, consumerLogger), opts...), nil
}

// closeKafkaProducer закрывает producer, если он создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	}
}

// stopKafkaConsumer останавливает consumer, если он запущен.
func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
