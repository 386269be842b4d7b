package events

import (
	"encoding/json"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

const eventTypePrefix = "auth.security."

// SecurityEventPayload is the broker wire shape of an audit event.
type SecurityEventPayload struct {
	EventID    string         `json:"event_id"`
	Sequence   int64          `json:"sequence"`
	EventType  string         `json:"event_type"`
	Identity   string         `json:"identity,omitempty"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	Details    map[string]any `json:"details"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewOutboxEvent serializes e for the outbox. Events are keyed by identity so a
// consumer sees one account's events in order; anonymous events fall back to the IP.
func NewOutboxEvent(e domain.SecurityEvent) (ports.OutboxEvent, error) {
	p := SecurityEventPayload{
		EventID:    e.ID.String(),
		Sequence:   e.Sequence,
		EventType:  string(e.Type),
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Details:    e.Details,
		OccurredAt: e.OccurredAt.UTC(),
	}
	key := e.IPAddress
	if e.Identity != nil {
		p.Identity = e.Identity.String()
		key = p.Identity
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	return ports.OutboxEvent{
		EventID:      e.ID,
		EventType:    eventTypePrefix + string(e.Type),
		PartitionKey: key,
		Payload:      raw,
		OccurredAt:   e.OccurredAt,
	}, nil
}
