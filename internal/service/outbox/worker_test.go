package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

type recordingPublisher struct {
	mu       sync.Mutex
	errs     []error
	fallback error
	got      []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.got = append(p.got, msg)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return p.fallback
}

func (p *recordingPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func metricValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

func enqueue(t *testing.T, repo domain.OutboxRepository, aggregateID string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: domain.AggregateTransaction,
		AggregateID:   aggregateID,
		EventType:     domain.EventTransactionStatusChanged,
		Payload:       []byte(`{"transaction_id":"` + aggregateID + `","to":"in_progress"}`),
	})
	require.NoError(t, err)
	return msg
}

func newTestWorker(repo domain.OutboxRepository, pub domain.OutboxPublisher, opts ...Option) *Worker {
	base := []Option{WithRegisterer(prometheus.NewRegistry()), WithRetryDelay(0)}
	return NewWorker(repo, pub, append(base, opts...)...)
}

func TestWorker_ProcessOnceMarksSent(t *testing.T) {
	t.Parallel()
	repo := memory.NewStore().Outbox()
	enqueue(t, repo, "trx-1")
	enqueue(t, repo, "trx-2")
	pub := &recordingPublisher{}

	w := newTestWorker(repo, pub)
	result := w.ProcessOnce(context.Background())

	require.Equal(t, BatchResult{Sent: 2}, result)
	require.Equal(t, 2, pub.calls())
	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.Zero(t, metricValue(t, w.metrics.pending))
	require.Equal(t, 2.0, metricValue(t, w.metrics.attempts.WithLabelValues("sent")))
}

func TestWorker_RetriesBeforeSucceeding(t *testing.T) {
	t.Parallel()
	repo := memory.NewStore().Outbox()
	enqueue(t, repo, "trx-1")
	pub := &recordingPublisher{errs: []error{errors.New("broker down"), errors.New("broker down")}}

	w := newTestWorker(repo, pub, WithMaxAttempts(3))
	result := w.ProcessOnce(context.Background())

	require.Equal(t, BatchResult{Sent: 1}, result)
	require.Equal(t, 3, pub.calls())
	require.Equal(t, 2.0, metricValue(t, w.metrics.attempts.WithLabelValues("retry")))
}

func TestWorker_ExhaustedAttemptsGoToDLQ(t *testing.T) {
	t.Parallel()
	repo := memory.NewStore().Outbox()
	msg := enqueue(t, repo, "trx-9")
	pub := &recordingPublisher{fallback: errors.New("broker down")}
	dlq := &recordingPublisher{}

	w := newTestWorker(repo, pub, WithMaxAttempts(2), WithDLQPublisher(dlq))
	result := w.ProcessOnce(context.Background())

	require.Equal(t, BatchResult{Failed: 1}, result)
	require.Equal(t, 2, pub.calls())
	require.Equal(t, 1, dlq.calls())

	var envelope dlqEnvelope
	require.NoError(t, json.Unmarshal(dlq.got[0].Payload, &envelope))
	require.Equal(t, msg.ID, envelope.OutboxID)
	require.Equal(t, "trx-9", envelope.AggregateID)
	require.Contains(t, envelope.Error, "broker down")
	require.JSONEq(t, string(msg.Payload), string(envelope.Payload))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount, "failed messages leave the pending backlog")
}

func TestWorker_Backoff(t *testing.T) {
	w := NewWorker(nil, nil, WithRegisterer(nil), WithRetryDelay(100*time.Millisecond))
	w.maxRetryDelay = time.Second

	require.Equal(t, 100*time.Millisecond, w.backoff(1))
	require.Equal(t, 200*time.Millisecond, w.backoff(2))
	require.Equal(t, 800*time.Millisecond, w.backoff(4))
	require.Equal(t, time.Second, w.backoff(5))
	require.Equal(t, time.Second, w.backoff(60))

	w.retryDelay = 0
	require.Zero(t, w.backoff(3))
}

func TestWorker_CancelledContextStopsRetries(t *testing.T) {
	t.Parallel()
	repo := memory.NewStore().Outbox()
	enqueue(t, repo, "trx-1")
	pub := &recordingPublisher{fallback: errors.New("broker down")}

	w := newTestWorker(repo, pub, WithRetryDelay(time.Hour), WithMaxAttempts(5))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := w.ProcessOnce(ctx)
	require.Zero(t, result)
	require.Equal(t, 1, pub.calls())

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	repo := memory.NewStore().Outbox()
	pub := &recordingPublisher{}
	w := newTestWorker(repo, pub, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	enqueue(t, repo, "trx-late")
	require.Eventually(t, func() bool { return pub.calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
