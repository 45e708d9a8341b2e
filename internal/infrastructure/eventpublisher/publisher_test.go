package eventpublisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/infrastructure/metrics"
	"github.com/iho/churchledger/internal/usecase"
)

func TestProcessEventsPublishesAndMarks(t *testing.T) {
	repo := &stubOutboxRepo{
		events: []*domain.OutboxEvent{{ID: "evt-1", EventType: domain.EventTypeTransactionApproved}},
	}
	pub := &stubPublisher{}
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	ep := newTestPublisher(repo, pub, m)

	if err := ep.processEvents(context.Background()); err != nil {
		t.Fatalf("processEvents failed: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.published))
	}
	if len(repo.marked) != 1 || repo.marked[0] != "evt-1" {
		t.Fatalf("expected event to be marked published, got %#v", repo.marked)
	}
	if got := testutil.ToFloat64(m.EventsPublished.WithLabelValues(domain.EventTypeTransactionApproved)); got != 1 {
		t.Fatalf("expected published counter 1, got %v", got)
	}
}

func TestProcessEventsContinuesOnPublishError(t *testing.T) {
	repo := &stubOutboxRepo{
		events: []*domain.OutboxEvent{
			{ID: "evt-1", EventType: "type"},
			{ID: "evt-2", EventType: "type"},
		},
	}
	pub := &stubPublisher{
		errorsByID: map[string]error{"evt-1": errors.New("fail")},
	}
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	ep := newTestPublisher(repo, pub, m)

	if err := ep.processEvents(context.Background()); err != nil {
		t.Fatalf("processEvents returned error: %v", err)
	}

	if len(pub.published) != 1 || pub.published[0].ID != "evt-2" {
		t.Fatalf("expected only evt-2 to be published, got %#v", pub.published)
	}
	if len(repo.marked) != 1 || repo.marked[0] != "evt-2" {
		t.Fatalf("expected only evt-2 to be marked, got %#v", repo.marked)
	}
	if pub.attempts["evt-1"] != 2 {
		t.Fatalf("expected evt-1 to be retried up to the limit, got %d attempts", pub.attempts["evt-1"])
	}
	if got := testutil.ToFloat64(m.PublishErrors.WithLabelValues("type")); got != 1 {
		t.Fatalf("expected one publish error, got %v", got)
	}
}

func TestProcessEventsRecoversFromTransientError(t *testing.T) {
	repo := &stubOutboxRepo{
		events: []*domain.OutboxEvent{{ID: "evt-1", EventType: "type"}},
	}
	pub := &stubPublisher{failFirst: map[string]int{"evt-1": 1}}
	ep := newTestPublisher(repo, pub, nil)

	if err := ep.processEvents(context.Background()); err != nil {
		t.Fatalf("processEvents returned error: %v", err)
	}

	if len(repo.marked) != 1 {
		t.Fatalf("expected event to be marked after retry, got %#v", repo.marked)
	}
}

func TestProcessEventsFetchError(t *testing.T) {
	repo := &stubOutboxRepo{fetchErr: errors.New("db down")}
	ep := newTestPublisher(repo, &stubPublisher{}, nil)

	if err := ep.processEvents(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
}

func TestTickPrunesPublishedEvents(t *testing.T) {
	repo := &stubOutboxRepo{}
	ep := newTestPublisher(repo, &stubPublisher{}, nil)
	ep.retention = time.Hour
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ep.now = func() time.Time { return fixed }

	ep.tick(context.Background())

	if !repo.prunedBefore.Equal(fixed.Add(-time.Hour)) {
		t.Fatalf("expected prune cutoff %v, got %v", fixed.Add(-time.Hour), repo.prunedBefore)
	}
}

func TestStartStopsOnContextCancellation(t *testing.T) {
	repo := &stubOutboxRepo{}
	pub := &stubPublisher{}
	ep := newTestPublisher(repo, pub, nil)
	ep.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ep.Start(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop after cancel")
	}
}

func newTestPublisher(repo *stubOutboxRepo, pub *stubPublisher, m *metrics.Metrics) *EventPublisher {
	return NewEventPublisher(Config{
		OutboxRepo: repo,
		Publisher:  pub,
		Metrics:    m,
		Logger:     zerolog.Nop(),
		BatchSize:  10,
		Interval:   50 * time.Millisecond,
		MaxRetries: 2,
	})
}

var _ usecase.OutboxRepository = (*stubOutboxRepo)(nil)

type stubOutboxRepo struct {
	mu           sync.Mutex
	events       []*domain.OutboxEvent
	marked       []string
	prunedBefore time.Time
	fetchErr     error
}

func (s *stubOutboxRepo) Create(ctx context.Context, tx usecase.DBTx, event *domain.OutboxEvent) error {
	return nil
}

func (s *stubOutboxRepo) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if len(s.events) <= limit {
		return append([]*domain.OutboxEvent(nil), s.events...), nil
	}
	return append([]*domain.OutboxEvent(nil), s.events[:limit]...), nil
}

func (s *stubOutboxRepo) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, id)
	return nil
}

func (s *stubOutboxRepo) DeletePublished(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunedBefore = before
	return nil
}

type stubPublisher struct {
	published  []*domain.OutboxEvent
	errorsByID map[string]error
	failFirst  map[string]int
	attempts   map[string]int
}

func (s *stubPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	if s.attempts == nil {
		s.attempts = make(map[string]int)
	}
	s.attempts[event.ID]++

	if err := s.errorsByID[event.ID]; err != nil {
		return err
	}
	if s.attempts[event.ID] <= s.failFirst[event.ID] {
		return errors.New("transient")
	}
	s.published = append(s.published, event)
	return nil
}
