package domain

import (
	"context"
	"time"
)

// TransactionRepository описывает хранение транзакций вместе с позициями.
type TransactionRepository interface {
	// Create сохраняет транзакцию и её позиции. ErrAlreadyExists при дубликате ID.
	Create(ctx context.Context, t Transaction) error
	// Get возвращает транзакцию с позициями или ErrTransactionNotFound.
	Get(ctx context.Context, id string) (Transaction, error)
	// ListByUser возвращает транзакции клиента, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)
	// TransitionStatus меняет статус, только если текущий входит в from.
	// false без ошибки означает, что условие не выполнилось.
	TransitionStatus(ctx context.Context, id string, from []TransactionStatus, to TransactionStatus, at time.Time) (bool, error)
	// UpdateAmounts фиксирует комиссию и итоговую сумму.
	UpdateAmounts(ctx context.Context, id string, serviceFee, finalAmount int64, at time.Time) error
	// ListExpirable возвращает ID неоплаченных транзакций с истёкшим сроком.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// LineRepository управляет статусами позиций.
type LineRepository interface {
	// TransitionStatus переводит подходящие под фильтр позиции из from в to
	// и возвращает количество изменённых.
	TransitionStatus(ctx context.Context, filter LineFilter, from []LineStatus, to LineStatus) (int, error)
}

// PaymentRepository описывает хранение платежей.
type PaymentRepository interface {
	// Create сохраняет платёж. ErrPendingPaymentExists, если у транзакции уже есть pending.
	Create(ctx context.Context, p Payment) error
	Get(ctx context.Context, id string) (Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (Payment, error)
	// Latest возвращает последний созданный платёж транзакции.
	Latest(ctx context.Context, transactionID string) (Payment, error)
	// TransitionStatus условно меняет статус платежа; approval может быть nil.
	TransitionStatus(ctx context.Context, id string, from []PaymentStatus, to PaymentStatus, approval *Approval, at time.Time) (bool, error)
	// TransitionByTransaction меняет статус всех платежей транзакции, попадающих под from.
	TransitionByTransaction(ctx context.Context, transactionID string, from []PaymentStatus, to PaymentStatus, at time.Time) (int, error)
	// ListExpirable возвращает pending-платежи с истёкшим сроком.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]Payment, error)
}

// DeliveryRepository описывает хранение записей доставки.
type DeliveryRepository interface {
	// CreateIfAbsent создаёт запись, если такой ещё нет; true — запись создана.
	CreateIfAbsent(ctx context.Context, rec DeliveryRecord) (bool, error)
	Get(ctx context.Context, id string) (DeliveryRecord, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]DeliveryRecord, error)
	TransitionStatus(ctx context.Context, id string, from []DeliveryStatus, to DeliveryStatus, at time.Time) (bool, error)
}

// SubscriptionRepository хранит подписки клиентов по ключу (клиент, пакет).
type SubscriptionRepository interface {
	Get(ctx context.Context, customerID, packageID string) (ServiceSubscription, error)
	Upsert(ctx context.Context, sub ServiceSubscription) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла транзакции.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, transactionID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит результаты мутирующих RPC по idempotency-key.
type IdempotencyRepository interface {
	// Claim атомарно занимает ключ записью из NewIdempotencyClaim. Если ключ занят,
	// возвращает существующую запись и ошибку из IdempotencyRecord.Conflict.
	Claim(ctx context.Context, claim IdempotencyRecord) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Complete фиксирует результат вызова; status должен быть терминальным.
	Complete(ctx context.Context, key string, status IdempotencyStatus, response []byte, resultCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Tx — набор репозиториев в рамках одной транзакции хранилища.
type Tx interface {
	Transactions() TransactionRepository
	Lines() LineRepository
	Payments() PaymentRepository
	Deliveries() DeliveryRepository
	Subscriptions() SubscriptionRepository
	Outbox() OutboxRepository
	Timeline() TimelineRepository
}

// TxFunc выполняется внутри транзакции хранилища.
type TxFunc func(ctx context.Context, tx Tx) error

// Store — единый источник истины. WithinTx фиксирует изменения, только если fn
// вернула nil; иначе все изменения откатываются.
type Store interface {
	WithinTx(ctx context.Context, fn TxFunc) error
	// Outbox работает вне пользовательских транзакций (для воркера публикации).
	Outbox() OutboxRepository
}
