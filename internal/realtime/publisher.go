// Package realtime hands domain events to subscribers over Redis pub/sub.
// Every organization has its own channel; nothing crosses channels.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/haven-crm/haven/internal/action"
)

// DefaultChannelPrefix is used when no prefix is configured.
const DefaultChannelPrefix = "haven:events:"

// ErrMissingOrganization is returned for events without an organization.
var ErrMissingOrganization = errors.New("realtime: event has no organization")

// RedisPublisher publishes events on the organization's channel.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPublisher constructs a publisher. An empty prefix selects DefaultChannelPrefix.
func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel name for an organization.
func (p *RedisPublisher) Channel(organizationID string) string {
	return p.prefix + organizationID
}

// Publish implements action.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, event action.Event) error {
	if event.OrganizationID == "" {
		return ErrMissingOrganization
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event.Type, err)
	}
	if err := p.client.Publish(ctx, p.Channel(event.OrganizationID), data).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe opens a subscription to one organization's events.
func (p *RedisPublisher) Subscribe(ctx context.Context, organizationID string) *redis.PubSub {
	return p.client.Subscribe(ctx, p.Channel(organizationID))
}

// Decode parses a message received on an organization channel.
func Decode(msg *redis.Message) (action.Event, error) {
	var event action.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		return action.Event{}, fmt.Errorf("realtime: decode: %w", err)
	}
	return event, nil
}

var _ action.Publisher = (*RedisPublisher)(nil)
