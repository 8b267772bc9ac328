package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/haven-crm/haven/internal/action"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueEvents carries domain events waiting to be relayed.
	QueueEvents = "events"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeRelayEvent hands one domain event to realtime subscribers.
	TaskTypeRelayEvent = "events:relay"
	// TaskTypeExpireInvitations marks overdue invitations expired.
	TaskTypeExpireInvitations = "invitations:expire"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if payload.To == "" {
		return nil, errors.New("jobs: email recipient required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

// NewSendEmailHandler returns the TaskTypeSendEmail handler. Delivery is not
// wired to a mail provider; the message is logged.
func NewSendEmailHandler(logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("send email", slog.String("to", payload.To), slog.String("subject", payload.Subject))
		return nil
	}
}

// NewRelayEventTask wraps a domain event for the relay queue.
func NewRelayEventTask(event action.Event) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRelayEvent, data, asynq.MaxRetry(3)), nil
}

// NewExpireInvitationsTask constructs the periodic invitation sweep.
func NewExpireInvitationsTask() *asynq.Task {
	return asynq.NewTask(TaskTypeExpireInvitations, nil, asynq.MaxRetry(1))
}
