package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets QoS and starts consuming the job queue
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// Unacked messages per consumer; the pool never holds more than this
	if err := w.broker.Qos(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.broker.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher forwards valid deliveries to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}

			msg, err := parseJobMessage(delivery)
			if err != nil {
				w.logger.Error("Rejecting malformed job message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages are dead-lettered, never requeued
				if nackErr := w.broker.Nack(delivery.DeliveryTag, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
				)
			case <-ctx.Done():
				w.requeueOnShutdown(msg)
				return nil
			case <-w.stopChan:
				w.requeueOnShutdown(msg)
				return nil
			}
		}
	}
}

func (w *Worker) requeueOnShutdown(msg *domain.JobMessage) {
	w.logger.Info("Message dispatcher stopped while dispatching job",
		slog.String("job_id", msg.JobID),
	)
	if err := w.broker.Nack(msg.DeliveryTag, true); err != nil {
		w.logger.Error("Failed to NACK message on shutdown",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func parseJobMessage(delivery amqp.Delivery) (*domain.JobMessage, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return nil, fmt.Errorf("invalid message JSON: %w", err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("invalid job_id %q: %w", msg.JobID, err)
	}
	msg.DeliveryTag = delivery.DeliveryTag
	return &msg, nil
}
