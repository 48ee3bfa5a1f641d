package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type subscriptionKey struct {
	customerID string
	packageID  string
}

// state — снимок всех данных; транзакция работает с копией и подменяет её при commit.
type state struct {
	transactions  map[string]domain.Transaction
	payments      map[string]domain.Payment
	deliveries    map[string]domain.DeliveryRecord
	subscriptions map[subscriptionKey]domain.ServiceSubscription
	outbox        map[string]outboxRecord
	outboxSeq     int64
	timeline      map[string][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		transactions:  make(map[string]domain.Transaction),
		payments:      make(map[string]domain.Payment),
		deliveries:    make(map[string]domain.DeliveryRecord),
		subscriptions: make(map[subscriptionKey]domain.ServiceSubscription),
		outbox:        make(map[string]outboxRecord),
		timeline:      make(map[string][]domain.TimelineEvent),
	}
}

func (s *state) clone() *state {
	dst := newState()
	for id, t := range s.transactions {
		dst.transactions[id] = cloneTransaction(t)
	}
	for id, p := range s.payments {
		dst.payments[id] = p
	}
	for id, d := range s.deliveries {
		dst.deliveries[id] = d
	}
	for k, sub := range s.subscriptions {
		dst.subscriptions[k] = sub
	}
	for id, rec := range s.outbox {
		rec.msg.Payload = append([]byte(nil), rec.msg.Payload...)
		dst.outbox[id] = rec
	}
	dst.outboxSeq = s.outboxSeq
	for id, events := range s.timeline {
		dst.timeline[id] = append([]domain.TimelineEvent(nil), events...)
	}
	return dst
}

func cloneTransaction(t domain.Transaction) domain.Transaction {
	t.Products = append([]domain.ProductLine(nil), t.Products...)
	t.Addons = append([]domain.AddonLine(nil), t.Addons...)
	if t.Whatsapp != nil {
		wa := *t.Whatsapp
		t.Whatsapp = &wa
	}
	return t
}

// Store — in-memory реализация domain.Store для разработки и тестов.
// Транзакции сериализуются одним мьютексом; fn не должна вызывать WithinTx повторно.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{st: newState()}
}

// WithinTx выполняет fn над копией состояния и фиксирует её, если fn вернула nil.
func (s *Store) WithinTx(ctx context.Context, fn domain.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Outbox возвращает репозиторий outbox, каждая операция которого — отдельная транзакция.
func (s *Store) Outbox() domain.OutboxRepository {
	return &storeOutbox{store: s}
}

// Ping всегда успешен; нужен для health-проверок наравне с PostgreSQL.
func (s *Store) Ping(context.Context) error {
	return nil
}

type tx struct {
	st *state
}

func (t *tx) Transactions() domain.TransactionRepository   { return &transactionRepository{st: t.st} }
func (t *tx) Lines() domain.LineRepository                 { return &lineRepository{st: t.st} }
func (t *tx) Payments() domain.PaymentRepository           { return &paymentRepository{st: t.st} }
func (t *tx) Deliveries() domain.DeliveryRepository        { return &deliveryRepository{st: t.st} }
func (t *tx) Subscriptions() domain.SubscriptionRepository { return &subscriptionRepository{st: t.st} }
func (t *tx) Outbox() domain.OutboxRepository              { return &outboxRepository{st: t.st} }
func (t *tx) Timeline() domain.TimelineRepository          { return &timelineRepository{st: t.st} }

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*tx)(nil)
)
