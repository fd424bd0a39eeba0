package client

import (
	"context"
	"errors"
	"sync"

	"github.com/cuongbtq/order-reports/internal/api/dto"
	"github.com/cuongbtq/order-reports/internal/domain"
)

type trackKey struct {
	orderID int64
	format  domain.Format
}

// Tracker remembers the last known job per (order, format) for one client
// session. It holds no state the server does not have; Refresh rebuilds it.
type Tracker struct {
	client *Client

	mu   sync.Mutex
	jobs map[trackKey]dto.ReportJobDTO
}

// NewTracker creates an empty Tracker
func NewTracker(client *Client) *Tracker {
	return &Tracker{
		client: client,
		jobs:   make(map[trackKey]dto.ReportJobDTO),
	}
}

// Ensure returns the active job for the pair, submitting one if none exists.
// A conflicting submission follows the job the server reports instead.
func (t *Tracker) Ensure(ctx context.Context, orderID int64, format domain.Format) (*dto.ReportJobDTO, error) {
	if last, ok := t.Last(orderID, format); ok && domain.Status(last.Status).IsActive() {
		job, err := t.client.Get(ctx, last.ID)
		if err == nil {
			t.Record(job)
			if domain.Status(job.Status).IsActive() {
				return job, nil
			}
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	job, err := t.client.Submit(ctx, orderID, format)
	if err == nil {
		t.Record(job)
		return job, nil
	}

	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.ExistingJobID == "" {
		return nil, err
	}

	job, err = t.client.Get(ctx, conflict.ExistingJobID)
	if err != nil {
		return nil, err
	}
	t.Record(job)
	return job, nil
}

// Record stores a snapshot as the latest for its pair
func (t *Tracker) Record(job *dto.ReportJobDTO) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[trackKey{orderID: job.OrderID, format: domain.Format(job.Format)}] = *job
}

// Last returns the last known snapshot for the pair
func (t *Tracker) Last(orderID int64, format domain.Format) (dto.ReportJobDTO, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[trackKey{orderID: orderID, format: format}]
	return job, ok
}

// Forget drops the pair
func (t *Tracker) Forget(orderID int64, format domain.Format) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, trackKey{orderID: orderID, format: format})
}

// Refresh replaces everything known about an order with the newest job per
// format from the server
func (t *Tracker) Refresh(ctx context.Context, orderID int64) error {
	jobs, err := t.client.ListByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.jobs {
		if key.orderID == orderID {
			delete(t.jobs, key)
		}
	}
	// Listing is newest first, so the first job seen per format wins
	for _, job := range jobs {
		key := trackKey{orderID: orderID, format: domain.Format(job.Format)}
		if _, seen := t.jobs[key]; !seen {
			t.jobs[key] = job
		}
	}
	return nil
}
