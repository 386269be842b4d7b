package application

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

// SecurityAuditLog is the append-only trail written by every state-changing operation.
type SecurityAuditLog struct {
	events  ports.SecurityEventRepository
	clock   ports.Clock
	metrics ports.SecurityMetrics
	cfg     Config
}

func NewSecurityAuditLog(events ports.SecurityEventRepository, clock ports.Clock, metrics ports.SecurityMetrics, cfg Config) *SecurityAuditLog {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &SecurityAuditLog{events: events, clock: clock, metrics: metrics, cfg: cfg.withDefaults()}
}

// Append stores one event. Storage failure is returned to the caller, never dropped.
func (l *SecurityAuditLog) Append(ctx context.Context, event domain.SecurityEvent) (domain.SecurityEvent, error) {
	if !event.Type.Valid() {
		return domain.SecurityEvent{}, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidInput, event.Type)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.clock.Now()
	}
	event.OccurredAt = event.OccurredAt.UTC()
	event.UserAgent = clampUserAgent(event.UserAgent)
	if event.Details == nil {
		event.Details = map[string]any{}
	}

	opCtx, cancel := withTimeout(ctx, l.cfg.OperationTimeout)
	defer cancel()
	stored, err := l.events.Append(opCtx, event)
	if err != nil {
		l.metrics.StorageFailure("audit_log")
		appLogger("audit_log").ErrorContext(ctx, "security event append failed",
			"operation", "append_security_event",
			"outcome", "failure",
			"event_type", string(event.Type),
			"error_code", "STORAGE_FAILURE",
			"error", err,
		)
		return domain.SecurityEvent{}, storageError("append security event", err)
	}
	l.metrics.AuditEventAppended(string(event.Type))
	return stored, nil
}

// emit is Append for internal callers that build the event inline.
func (l *SecurityAuditLog) emit(ctx context.Context, eventType domain.EventType, identity *uuid.UUID, meta RequestMeta, at time.Time, details map[string]any) error {
	_, err := l.Append(ctx, domain.SecurityEvent{
		Identity:   identity,
		Type:       eventType,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		Details:    details,
		OccurredAt: at,
	})
	return err
}

// Query returns one page of events in (occurred_at, sequence) order.
func (l *SecurityAuditLog) Query(ctx context.Context, filter domain.EventFilter, page Page) (EventPage, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return EventPage{}, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidInput, filter.Type)
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return EventPage{}, fmt.Errorf("%w: from must be before to", domain.ErrInvalidInput)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = l.cfg.QueryDefaultSize
	}
	if limit > l.cfg.QueryMaxSize {
		limit = l.cfg.QueryMaxSize
	}

	var after *domain.EventCursor
	if page.Cursor != "" {
		c, err := domain.DecodeEventCursor(page.Cursor)
		if err != nil {
			return EventPage{}, err
		}
		after = &c
	}

	opCtx, cancel := withTimeout(ctx, l.cfg.OperationTimeout)
	defer cancel()
	// One extra row tells us whether a next page exists without a count query.
	rows, err := l.events.Query(opCtx, filter, after, limit+1)
	if err != nil {
		l.metrics.StorageFailure("audit_log")
		return EventPage{}, storageError("query security events", err)
	}

	out := EventPage{Events: rows}
	if len(rows) > limit {
		out.Events = rows[:limit]
		out.NextCursor = domain.CursorOf(out.Events[limit-1]).Encode()
	}
	return out, nil
}

// Stream lazily walks every matching event, fetching pageSize rows per round trip.
// Iteration stops at the first error, which is yielded once.
func (l *SecurityAuditLog) Stream(ctx context.Context, filter domain.EventFilter, pageSize int) iter.Seq2[domain.SecurityEvent, error] {
	return func(yield func(domain.SecurityEvent, error) bool) {
		page := Page{Limit: pageSize}
		for {
			res, err := l.Query(ctx, filter, page)
			if err != nil {
				yield(domain.SecurityEvent{}, err)
				return
			}
			for _, e := range res.Events {
				if !yield(e, nil) {
					return
				}
			}
			if res.NextCursor == "" {
				return
			}
			page.Cursor = res.NextCursor
		}
	}
}
