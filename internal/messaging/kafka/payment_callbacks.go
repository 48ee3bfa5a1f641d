package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// PaymentUpdater применяет статус платежа, пришедший от шлюза.
type PaymentUpdater interface {
	HandleGatewayCallback(ctx context.Context, externalID string, next domain.PaymentStatus) (domain.Payment, error)
}

// PaymentCallbackHandler возвращает обработчик топика callback'ов шлюза.
// Битые сообщения, неизвестные платежи и запрещённые переходы не повторяются.
func PaymentCallbackHandler(updater PaymentUpdater, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-callback-consumer")
	}

	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		cb, err := ParsePaymentCallback(msg)
		if err != nil {
			return Permanent(err)
		}
		status, _ := cb.PaymentStatus()

		payment, err := updater.HandleGatewayCallback(ctx, cb.ExternalID, status)
		if err != nil {
			if isPermanentCallbackError(err) {
				return Permanent(err)
			}
			return err
		}

		logger.WithFields(log.Fields{
			"external_id":    cb.ExternalID,
			"payment_id":     payment.ID,
			"transaction_id": payment.TransactionID,
			"status":         payment.Status,
		}).Info("payment callback applied")
		return nil
	}
}

func isPermanentCallbackError(err error) bool {
	return domain.IsNotFound(err) ||
		domain.IsValidation(err) ||
		errors.Is(err, domain.ErrInvalidStateTransition)
}
