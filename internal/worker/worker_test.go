package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/cuongbtq/order-reports/internal/storage"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type settlement struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeBroker struct {
	deliveries chan amqp.Delivery

	mu       sync.Mutex
	qos      int
	settled  []settlement
	settledC chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		deliveries: make(chan amqp.Delivery, 16),
		settledC:   make(chan struct{}, 16),
	}
}

func (b *fakeBroker) Qos(prefetchCount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.qos = prefetchCount
	return nil
}

func (b *fakeBroker) Consume(string) (<-chan amqp.Delivery, error) {
	return b.deliveries, nil
}

func (b *fakeBroker) Ack(tag uint64) error {
	b.record(settlement{tag: tag, ack: true})
	return nil
}

func (b *fakeBroker) Nack(tag uint64, requeue bool) error {
	b.record(settlement{tag: tag, requeue: requeue})
	return nil
}

func (b *fakeBroker) record(s settlement) {
	b.mu.Lock()
	b.settled = append(b.settled, s)
	b.mu.Unlock()
	b.settledC <- struct{}{}
}

func (b *fakeBroker) waitSettled(t *testing.T, n int) map[uint64]settlement {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-b.settledC:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d settlements, got %d", n, i)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uint64]settlement, len(b.settled))
	for _, s := range b.settled {
		out[s.tag] = s
	}
	return out
}

type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]error
	calls   []string
}

func (e *fakeExecutor) Execute(_ context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, jobID)
	return e.results[jobID]
}

func delivery(tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{DeliveryTag: tag, Body: []byte(body)}
}

func jobBody(jobID string) string {
	return `{"job_id":"` + jobID + `"}`
}

func TestWorker_SettlesDeliveries(t *testing.T) {
	okJob := uuid.NewString()
	claimedJob := uuid.NewString()
	transientJob := uuid.NewString()
	brokenJob := uuid.NewString()

	broker := newFakeBroker()
	executor := &fakeExecutor{results: map[string]error{
		claimedJob:   domain.ErrJobAlreadyClaimed,
		transientJob: domain.NewRetryableError(errors.New("db down")),
		brokenJob:    errors.New("complete failed"),
	}}

	w := NewWorker(&Config{
		Logger:      discardLogger(),
		Broker:      broker,
		Executor:    executor,
		Concurrency: 2,
		WorkerID:    "worker-test",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	broker.deliveries <- delivery(1, jobBody(okJob))
	broker.deliveries <- delivery(2, jobBody(claimedJob))
	broker.deliveries <- delivery(3, jobBody(transientJob))
	broker.deliveries <- delivery(4, jobBody(brokenJob))
	broker.deliveries <- delivery(5, `not json`)
	broker.deliveries <- delivery(6, jobBody("not-a-uuid"))

	settled := broker.waitSettled(t, 6)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, settlement{tag: 1, ack: true}, settled[1])
	assert.Equal(t, settlement{tag: 2, ack: true}, settled[2], "duplicate delivery is dropped")
	assert.Equal(t, settlement{tag: 3, requeue: true}, settled[3])
	assert.Equal(t, settlement{tag: 4}, settled[4])
	assert.Equal(t, settlement{tag: 5}, settled[5])
	assert.Equal(t, settlement{tag: 6}, settled[6])

	assert.ElementsMatch(t, []string{okJob, claimedJob, transientJob, brokenJob}, executor.calls)
	assert.Equal(t, 2, broker.qos, "prefetch defaults to concurrency")
}

func TestWorker_DeliveryChannelClosed(t *testing.T) {
	broker := newFakeBroker()
	w := NewWorker(&Config{
		Logger:   discardLogger(),
		Broker:   broker,
		Executor: &fakeExecutor{},
		WorkerID: "worker-test",
	})

	close(broker.deliveries)
	assert.ErrorIs(t, w.Start(context.Background()), ErrDeliveriesClosed)
}

func TestWorker_Stop(t *testing.T) {
	w := NewWorker(&Config{
		Logger:   discardLogger(),
		Broker:   newFakeBroker(),
		Executor: &fakeExecutor{},
		WorkerID: "worker-test",
	})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestShouldRequeueJob(t *testing.T) {
	assert.True(t, shouldRequeueJob(domain.NewRetryableError(errors.New("x"))))
	assert.False(t, shouldRequeueJob(domain.ErrJobAlreadyClaimed))
	assert.False(t, shouldRequeueJob(errors.New("x")))
}

func TestReaper_ReapOnce(t *testing.T) {
	jobs := storage.NewMemoryJobStorage()
	now := fixedNow
	jobs.SetClock(func() time.Time { return now })

	ctx := context.Background()
	stale := &domain.ReportJob{ID: uuid.NewString(), OrderID: 1, Format: domain.FormatCSV}
	fresh := &domain.ReportJob{ID: uuid.NewString(), OrderID: 2, Format: domain.FormatCSV}
	pending := &domain.ReportJob{ID: uuid.NewString(), OrderID: 3, Format: domain.FormatCSV}
	for _, job := range []*domain.ReportJob{stale, fresh, pending} {
		require.NoError(t, jobs.CreateJob(ctx, job))
	}

	_, err := jobs.ClaimJob(ctx, stale.ID, "dead-worker")
	require.NoError(t, err)
	now = now.Add(5 * time.Minute)
	_, err = jobs.ClaimJob(ctx, fresh.ID, "live-worker")
	require.NoError(t, err)
	now = now.Add(30 * time.Second)

	reaper := NewReaper(&ReaperConfig{
		Logger:     discardLogger(),
		Jobs:       jobs,
		StaleAfter: 2 * time.Minute,
	})

	ids, err := reaper.ReapOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)

	got, err := jobs.GetJobByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, StaleJobDetail, got.ErrorDetail)

	got, err = jobs.GetJobByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)

	got, err = jobs.GetJobByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status, "pending jobs are never reaped")
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func TestReaper_RedispatchOnce(t *testing.T) {
	jobs := storage.NewMemoryJobStorage()
	now := fixedNow
	jobs.SetClock(func() time.Time { return now })

	ctx := context.Background()
	lost := &domain.ReportJob{ID: uuid.NewString(), OrderID: 1, Format: domain.FormatCSV}
	unlucky := &domain.ReportJob{ID: uuid.NewString(), OrderID: 2, Format: domain.FormatPDF}
	claimed := &domain.ReportJob{ID: uuid.NewString(), OrderID: 3, Format: domain.FormatCSV}
	for _, job := range []*domain.ReportJob{lost, unlucky, claimed} {
		require.NoError(t, jobs.CreateJob(ctx, job))
	}
	_, err := jobs.ClaimJob(ctx, claimed.ID, "live-worker")
	require.NoError(t, err)

	now = now.Add(4 * time.Minute)
	recent := &domain.ReportJob{ID: uuid.NewString(), OrderID: 4, Format: domain.FormatCSV}
	require.NoError(t, jobs.CreateJob(ctx, recent))
	now = now.Add(2 * time.Minute)

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.Anything, lost.ID).Return(nil).Once()
	dispatcher.On("Dispatch", mock.Anything, unlucky.ID).Return(errors.New("broker down")).Once()

	reaper := NewReaper(&ReaperConfig{
		Logger:       discardLogger(),
		Jobs:         jobs,
		Dispatcher:   dispatcher,
		StaleAfter:   10 * time.Minute,
		PendingAfter: 5 * time.Minute,
	})

	ids, err := reaper.RedispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{lost.ID}, ids)
	dispatcher.AssertExpectations(t)

	got, err := jobs.GetJobByID(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, now, got.UpdatedAt)

	// Touched jobs wait another full interval
	ids, err = reaper.RedispatchOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	dispatcher.AssertNumberOfCalls(t, "Dispatch", 2)
}

func TestReaper_RedispatchDisabledWithoutDispatcher(t *testing.T) {
	jobs := storage.NewMemoryJobStorage()
	now := fixedNow
	jobs.SetClock(func() time.Time { return now })

	require.NoError(t, jobs.CreateJob(context.Background(), &domain.ReportJob{ID: uuid.NewString(), OrderID: 1, Format: domain.FormatCSV}))
	now = now.Add(time.Hour)

	reaper := NewReaper(&ReaperConfig{Logger: discardLogger(), Jobs: jobs})
	ids, err := reaper.RedispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	reaper := NewReaper(&ReaperConfig{
		Logger:   discardLogger(),
		Jobs:     storage.NewMemoryJobStorage(),
		Interval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, reaper.Run(ctx))
}
