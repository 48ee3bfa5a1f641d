package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type timelineRepository struct {
	st *state
}

// Append добавляет событие в хранилище.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	events := append(r.st.timeline[event.TransactionID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.st.timeline[event.TransactionID] = events
	return nil
}

// List возвращает события транзакции в хронологическом порядке.
func (r *timelineRepository) List(_ context.Context, transactionID string) ([]domain.TimelineEvent, error) {
	events := r.st.timeline[transactionID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
