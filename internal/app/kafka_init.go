package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	"github.com/vladislavdragonenkov/dormside/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если KAFKA_BROKERS задан.
// Возвращает nil, nil, если брокеры не настроены.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, order events stay in the outbox")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// outboxPublishers возвращает publisher событий заказа и DLQ publisher.
func outboxPublishers(producer *kafka.Producer) (domain.OutboxPublisher, domain.OutboxPublisher) {
	if producer == nil {
		return nil, nil
	}
	return kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
}

// closeKafkaProducer закрывает producer, если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
