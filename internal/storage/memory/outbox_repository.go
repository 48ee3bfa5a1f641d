package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	updatedAt  time.Time
}

type outboxRepository struct {
	st *state
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	r.st.outboxSeq++
	r.st.outbox[msg.ID] = outboxRecord{
		msg:       msg,
		seq:       r.st.outboxSeq,
		status:    "pending",
		updatedAt: msg.CreatedAt,
	}
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке записи.
func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	pending := r.pending()
	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	pending := r.pending()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].msg.CreatedAt
	}
	return stats, nil
}

// MarkSent удаляет опубликованное событие: в памяти храним только недоставленные.
func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	if _, ok := r.st.outbox[id]; !ok {
		return domain.ErrOutboxPublish
	}
	delete(r.st.outbox, id)
	return nil
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	rec, ok := r.st.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = "failed"
	rec.attemptCnt++
	rec.updatedAt = time.Now().UTC()
	r.st.outbox[id] = rec
	return nil
}

func (r *outboxRepository) pending() []outboxRecord {
	result := make([]outboxRecord, 0, len(r.st.outbox))
	for _, rec := range r.st.outbox {
		if rec.status == "pending" {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// storeOutbox выполняет каждую операцию в отдельной транзакции хранилища.
type storeOutbox struct {
	store *Store
}

func (o *storeOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (out domain.OutboxMessage, err error) {
	err = o.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		out, err = tx.Outbox().Enqueue(ctx, msg)
		return err
	})
	return out, err
}

func (o *storeOutbox) PullPending(ctx context.Context, limit int) (out []domain.OutboxMessage, err error) {
	err = o.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		out, err = tx.Outbox().PullPending(ctx, limit)
		return err
	})
	return out, err
}

func (o *storeOutbox) Stats(ctx context.Context) (out domain.OutboxStats, err error) {
	err = o.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		out, err = tx.Outbox().Stats(ctx)
		return err
	})
	return out, err
}

func (o *storeOutbox) MarkSent(ctx context.Context, id string) error {
	return o.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Outbox().MarkSent(ctx, id)
	})
}

func (o *storeOutbox) MarkFailed(ctx context.Context, id string) error {
	return o.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Outbox().MarkFailed(ctx, id)
	})
}

var (
	_ domain.OutboxRepository = (*outboxRepository)(nil)
	_ domain.OutboxRepository = (*storeOutbox)(nil)
)
