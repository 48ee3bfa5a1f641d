package lifecycle

import (
	"context"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Audience определяет, сколько деталей попадает в представление.
type Audience int

const (
	// AudienceCustomer — статусы транзакции и платежа плюс флаг WhatsApp.
	AudienceCustomer Audience = iota
	// AudienceAdmin — дополнительно статусы позиций, доставки и timeline.
	AudienceAdmin
)

// WhatsappFlag — состояние WhatsApp-подписки, понятное клиенту.
type WhatsappFlag string

const (
	WhatsappNotApplicable        WhatsappFlag = "not_applicable"
	WhatsappAwaitingPayment      WhatsappFlag = "awaiting_payment"
	WhatsappActivationInProgress WhatsappFlag = "activation_in_progress"
	WhatsappActivated            WhatsappFlag = "activated"
	WhatsappActivationFailed     WhatsappFlag = "activation_failed"
	WhatsappCancelled            WhatsappFlag = "cancelled"
)

// TransactionView — состояние заказа для экранов статуса и деталей.
type TransactionView struct {
	Transaction domain.Transaction
	Type        domain.TransactionType
	Payment     *domain.Payment
	Whatsapp    WhatsappFlag
	// Только для AudienceAdmin.
	Deliveries []domain.DeliveryRecord
	Timeline   []domain.TimelineEvent
}

// GetTransactionView применяет истечение сроков к транзакции и возвращает её
// актуальное состояние. Если оплата подтверждена, а WhatsApp ещё не активирован,
// повторно запускает фоновую активацию.
func (e *Engine) GetTransactionView(ctx context.Context, transactionID string, audience Audience) (TransactionView, error) {
	if _, err := e.AutoExpire(ctx, Scope{TransactionID: transactionID}); err != nil {
		return TransactionView{}, err
	}

	var view TransactionView
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trx, err := tx.Transactions().Get(ctx, transactionID)
		if err != nil {
			return err
		}
		latest, err := latestPayment(ctx, tx, trx.ID)
		if err != nil {
			return err
		}
		view = TransactionView{
			Transaction: trx,
			Type:        trx.Type(),
			Payment:     latest,
			Whatsapp:    whatsappFlag(trx),
		}

		if audience != AudienceAdmin {
			view.Transaction = redactLineStatuses(trx)
			return nil
		}
		if view.Deliveries, err = tx.Deliveries().ListByTransaction(ctx, trx.ID); err != nil {
			return err
		}
		view.Timeline, err = tx.Timeline().List(ctx, trx.ID)
		return err
	})
	if err != nil {
		return TransactionView{}, err
	}

	if view.Whatsapp == WhatsappActivationInProgress && view.Payment != nil && view.Payment.Status == domain.PaymentStatusPaid {
		e.DispatchActivation(transactionID)
	}
	return view, nil
}

// ListTransactions возвращает историю заказов клиента, новые первыми.
// Просроченные неоплаченные заказы истекают до ответа.
func (e *Engine) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	list, err := e.listByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	now := e.now()
	stale := false
	for _, trx := range list {
		if !domain.TransactionExpired(trx, now) {
			continue
		}
		stale = true
		if _, err := e.AutoExpire(ctx, Scope{TransactionID: trx.ID}); err != nil {
			return nil, err
		}
	}
	if !stale {
		return list, nil
	}
	return e.listByUser(ctx, userID, limit)
}

func (e *Engine) listByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	var list []domain.Transaction
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		list, err = tx.Transactions().ListByUser(ctx, userID, limit)
		return err
	})
	return list, err
}

func whatsappFlag(trx domain.Transaction) WhatsappFlag {
	if trx.Whatsapp == nil {
		return WhatsappNotApplicable
	}
	switch trx.Whatsapp.Status {
	case domain.LineStatusSuccess:
		return WhatsappActivated
	case domain.LineStatusFailed:
		return WhatsappActivationFailed
	case domain.LineStatusCancelled:
		return WhatsappCancelled
	case domain.LineStatusInProgress:
		return WhatsappActivationInProgress
	default:
		return WhatsappAwaitingPayment
	}
}

// redactLineStatuses убирает статусы позиций из клиентского представления.
func redactLineStatuses(trx domain.Transaction) domain.Transaction {
	products := make([]domain.ProductLine, len(trx.Products))
	for i, p := range trx.Products {
		p.Status = ""
		products[i] = p
	}
	addons := make([]domain.AddonLine, len(trx.Addons))
	for i, a := range trx.Addons {
		a.Status = ""
		addons[i] = a
	}
	trx.Products = products
	trx.Addons = addons
	if trx.Whatsapp != nil {
		wa := *trx.Whatsapp
		wa.Status = ""
		trx.Whatsapp = &wa
	}
	return trx
}
