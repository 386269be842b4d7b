package ports

import "context"

// EventPublisher is the outbound broker port used by the outbox worker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}
