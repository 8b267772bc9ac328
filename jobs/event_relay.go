package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/haven-crm/haven/internal/action"
	jobmetrics "github.com/haven-crm/haven/internal/jobs"
)

// QueuedPublisher implements action.Publisher by enqueueing events, keeping
// the Redis round-trip to subscribers off the request path.
type QueuedPublisher struct {
	client *Client
}

// NewQueuedPublisher constructs a QueuedPublisher.
func NewQueuedPublisher(client *Client) *QueuedPublisher {
	return &QueuedPublisher{client: client}
}

// Publish implements action.Publisher.
func (p *QueuedPublisher) Publish(ctx context.Context, event action.Event) error {
	_, err := p.client.EnqueueEvent(ctx, event)
	return err
}

// EventRelayJob delivers queued events to realtime subscribers.
type EventRelayJob struct {
	Publisher action.Publisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewEventRelayJob initialises the relay handler.
func NewEventRelayJob(publisher action.Publisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *EventRelayJob {
	return &EventRelayJob{Publisher: publisher, Logger: logger, Metrics: metrics}
}

// Handle relays one event.
func (j *EventRelayJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Publisher == nil {
		return errors.New("event relay: handler not configured")
	}
	var event action.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return asynq.SkipRetry
	}
	if event.OrganizationID == "" || event.Type == "" {
		j.logger().Warn("dropping event without organization or type", slog.String("type", event.Type))
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskTypeRelayEvent)
	defer func() {
		err = tracker.End(err)
	}()

	if err = j.Publisher.Publish(ctx, event); err != nil {
		j.logger().Warn("relay event",
			slog.String("type", event.Type),
			slog.String("organization", event.OrganizationID),
			slog.Any("error", err))
		return err
	}
	j.Metrics.AddRelayed(event.Type, 1)
	return nil
}

func (j *EventRelayJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

var _ action.Publisher = (*QueuedPublisher)(nil)
