package action

import (
	"context"
	"time"

	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/tenant"
)

// Event is a domain event handed to the realtime publisher after a successful mutation.
type Event struct {
	Type           string    `json:"type"`
	OrganizationID string    `json:"organizationId"`
	ActorID        string    `json:"actorId"`
	Payload        any       `json:"payload,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Publisher delivers domain events to subscribers outside this process.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Context is the per-invocation bundle a handler receives. It is created fresh
// for every run and must not be retained after the handler returns.
type Context struct {
	PrincipalID    string
	OrganizationID string
	Role           rbac.Role
	// Query executes statements bound to OrganizationID.
	Query *tenant.Handle

	now    func() time.Time
	events []Event
}

// Batch runs fn in a single organization-bound transaction.
func (c *Context) Batch(ctx context.Context, fn func(ctx context.Context, q tenant.Querier) error) error {
	return c.Query.Batch(ctx, fn)
}

// Emit records a domain event. Events are published only if the handler succeeds.
func (c *Context) Emit(eventType string, payload any) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	c.events = append(c.events, Event{
		Type:           eventType,
		OrganizationID: c.OrganizationID,
		ActorID:        c.PrincipalID,
		Payload:        payload,
		OccurredAt:     now().UTC(),
	})
}

// Events returns the events recorded so far.
func (c *Context) Events() []Event {
	return append([]Event(nil), c.events...)
}
