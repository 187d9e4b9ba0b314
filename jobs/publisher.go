package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/saldo-erp/saldo/internal/shared"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher enqueues domain events for the worker.
type Publisher struct {
	client enqueuer
	logger *slog.Logger
}

var _ shared.Publisher = (*Publisher)(nil)

// NewPublisher builds a Publisher on top of the queue client.
func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client.client, logger: logger}
}

// Publish implements shared.Publisher.
func (p *Publisher) Publish(ctx context.Context, evt shared.Event) error {
	task, err := NewEventTask(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.Type, err)
	}
	opts := []asynq.Option{}
	if evt.ID != "" {
		opts = append(opts, asynq.TaskID(evt.ID))
	}
	info, err := p.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue event %s: %w", evt.Type, err)
	}
	p.logger.Debug("event enqueued",
		slog.String("type", string(evt.Type)),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)
	return nil
}
