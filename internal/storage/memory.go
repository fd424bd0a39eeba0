package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/order-reports/internal/domain"
)

type pair struct {
	orderID int64
	format  domain.Format
}

// MemoryJobStorage is an in-process report job repository. One mutex guards
// the table and the active-pair index, so admission check and insert are a
// single critical section.
type MemoryJobStorage struct {
	mu         sync.Mutex
	jobs       map[string]*domain.ReportJob
	active     map[pair]string
	heartbeats map[string]time.Time
	now        func() time.Time
	orders     *MemoryOrderStorage
}

// NewMemoryJobStorage creates an empty in-memory repository
func NewMemoryJobStorage() *MemoryJobStorage {
	return &MemoryJobStorage{
		jobs:       make(map[string]*domain.ReportJob),
		active:     make(map[pair]string),
		heartbeats: make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetClock overrides the time source (tests)
func (m *MemoryJobStorage) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// WithOrders joins order name and total into reads, like the SQL view does
func (m *MemoryJobStorage) WithOrders(orders *MemoryOrderStorage) *MemoryJobStorage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = orders
	return m
}

func (m *MemoryJobStorage) view(job *domain.ReportJob) *domain.ReportJob {
	out := job.Clone()
	if m.orders == nil {
		return out
	}
	m.orders.mu.RLock()
	defer m.orders.mu.RUnlock()
	if order, ok := m.orders.orders[job.OrderID]; ok {
		out.OrderName = order.Name
		out.OrderTotalCents = order.TotalValueCents()
	}
	return out
}

func (m *MemoryJobStorage) CreateJob(_ context.Context, job *domain.ReportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pair{orderID: job.OrderID, format: job.Format}
	if existingID, ok := m.active[key]; ok {
		return conflictWith(m.jobs[existingID])
	}
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("report job %s already exists", job.ID)
	}

	job.Status = domain.StatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	stored := job.Clone()
	m.jobs[job.ID] = stored
	m.active[key] = job.ID
	return nil
}

func (m *MemoryJobStorage) GetJobByID(_ context.Context, jobID string) (*domain.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return m.view(job), nil
}

func (m *MemoryJobStorage) ListJobs(_ context.Context, filter JobFilter) ([]*domain.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.ReportJob
	for _, job := range m.jobs {
		if filter.OrderID != 0 && job.OrderID != filter.OrderID {
			continue
		}
		if filter.Format != "" && job.Format != filter.Format {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !before(job, filter.Cursor) {
			continue
		}
		out = append(out, m.view(job))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

// before reports whether job sorts after the cursor in (created_at, id) DESC order
func before(job *domain.ReportJob, c *JobCursor) bool {
	if job.CreatedAt.Equal(c.CreatedAt) {
		return job.ID < c.JobID
	}
	return job.CreatedAt.Before(c.CreatedAt)
}

func (m *MemoryJobStorage) DeleteJob(_ context.Context, jobID string) (*domain.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	delete(m.jobs, jobID)
	delete(m.heartbeats, jobID)
	key := pair{orderID: job.OrderID, format: job.Format}
	if m.active[key] == jobID {
		delete(m.active, key)
	}
	return job, nil
}

func (m *MemoryJobStorage) ClaimJob(_ context.Context, jobID, _ string) (*domain.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.StatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	now := m.now()
	job.Status = domain.StatusProcessing
	job.UpdatedAt = now
	m.heartbeats[jobID] = now
	return job.Clone(), nil
}

func (m *MemoryJobStorage) CompleteJob(_ context.Context, jobID string, artifact domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.processingLocked(jobID)
	if err != nil {
		return err
	}
	now := m.now()
	job.Status = domain.StatusCompleted
	job.Artifact = &artifact
	job.CompletedAt = &now
	job.UpdatedAt = now
	m.releaseLocked(job)
	return nil
}

func (m *MemoryJobStorage) FailJob(_ context.Context, jobID, errorDetail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.processingLocked(jobID)
	if err != nil {
		return err
	}
	m.failLocked(job, errorDetail)
	return nil
}

func (m *MemoryJobStorage) UpdateJobHeartbeat(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok && job.Status == domain.StatusProcessing {
		m.heartbeats[jobID] = m.now()
	}
	return nil
}

func (m *MemoryJobStorage) FailStaleJobs(_ context.Context, staleAfter time.Duration, errorDetail string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleAfter)
	var ids []string
	for id, job := range m.jobs {
		if job.Status != domain.StatusProcessing {
			continue
		}
		if hb, ok := m.heartbeats[id]; ok && hb.Before(cutoff) {
			m.failLocked(job, errorDetail)
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryJobStorage) RequeueStalePendingJobs(_ context.Context, pendingAfter time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-pendingAfter)
	var ids []string
	for id, job := range m.jobs {
		if job.Status == domain.StatusPending && job.UpdatedAt.Before(cutoff) {
			job.UpdatedAt = now
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryJobStorage) processingLocked(jobID string) (*domain.ReportJob, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.StatusProcessing {
		return nil, fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.Status)
	}
	return job, nil
}

func (m *MemoryJobStorage) failLocked(job *domain.ReportJob, errorDetail string) {
	now := m.now()
	job.Status = domain.StatusFailed
	job.ErrorDetail = errorDetail
	job.CompletedAt = &now
	job.UpdatedAt = now
	m.releaseLocked(job)
}

func (m *MemoryJobStorage) releaseLocked(job *domain.ReportJob) {
	delete(m.heartbeats, job.ID)
	key := pair{orderID: job.OrderID, format: job.Format}
	if m.active[key] == job.ID {
		delete(m.active, key)
	}
}

// MemoryOrderStorage is an in-process order store
type MemoryOrderStorage struct {
	mu     sync.RWMutex
	orders map[int64]*domain.Order
}

// NewMemoryOrderStorage creates a store seeded with the given orders
func NewMemoryOrderStorage(orders ...*domain.Order) *MemoryOrderStorage {
	s := &MemoryOrderStorage{orders: make(map[int64]*domain.Order)}
	for _, o := range orders {
		s.Put(o)
	}
	return s
}

// Put inserts or replaces an order
func (s *MemoryOrderStorage) Put(order *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

func (s *MemoryOrderStorage) OrderExists(_ context.Context, orderID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orders[orderID]
	return ok, nil
}

func (s *MemoryOrderStorage) GetOrder(_ context.Context, orderID int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	c := *order
	c.Items = append([]domain.OrderItem(nil), order.Items...)
	return &c, nil
}
