package domain

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPasswordChange EventType = "PASSWORD_CHANGE"
	EventEmailChange    EventType = "EMAIL_CHANGE"
	EventRoleChange     EventType = "ROLE_CHANGE"
	EventAccountLock    EventType = "ACCOUNT_LOCK"
	EventAccountUnlock  EventType = "ACCOUNT_UNLOCK"
	EventLoginSuccess   EventType = "LOGIN_SUCCESS"
	EventLoginFailure   EventType = "LOGIN_FAILURE"
	EventResetRequest   EventType = "RESET_REQUEST"
	EventResetComplete  EventType = "RESET_COMPLETE"
)

func (t EventType) Valid() bool {
	switch t {
	case EventPasswordChange, EventEmailChange, EventRoleChange,
		EventAccountLock, EventAccountUnlock,
		EventLoginSuccess, EventLoginFailure,
		EventResetRequest, EventResetComplete:
		return true
	default:
		return false
	}
}

// IsAccountChange reports whether the type belongs to caller-reported profile changes.
func (t EventType) IsAccountChange() bool {
	return t == EventPasswordChange || t == EventEmailChange || t == EventRoleChange
}

// SecurityEvent is an append-only audit record. Sequence is assigned by the store and
// breaks ties between events with the same OccurredAt.
type SecurityEvent struct {
	ID         uuid.UUID
	Sequence   int64
	Identity   *uuid.UUID
	Type       EventType
	IPAddress  string
	UserAgent  string
	Details    map[string]any
	OccurredAt time.Time
}

// EventFilter narrows an audit query. From is inclusive, To is exclusive.
type EventFilter struct {
	Identity *uuid.UUID
	Type     EventType
	From     *time.Time
	To       *time.Time
}

// Matches applies the filter to one event; used by stores without a query planner.
func (f EventFilter) Matches(e SecurityEvent) bool {
	if f.Identity != nil && (e.Identity == nil || *e.Identity != *f.Identity) {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.From != nil && e.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.OccurredAt.Before(*f.To) {
		return false
	}
	return true
}

// EventCursor is the keyset position after which a query resumes.
type EventCursor struct {
	OccurredAt time.Time
	Sequence   int64
}

// After reports whether e sorts strictly after the cursor in (occurred_at, sequence) order.
func (c EventCursor) After(e SecurityEvent) bool {
	if e.OccurredAt.Equal(c.OccurredAt) {
		return e.Sequence > c.Sequence
	}
	return e.OccurredAt.After(c.OccurredAt)
}

func CursorOf(e SecurityEvent) EventCursor {
	return EventCursor{OccurredAt: e.OccurredAt, Sequence: e.Sequence}
}

// Encode renders the cursor as an opaque URL-safe string.
func (c EventCursor) Encode() string {
	raw := strconv.FormatInt(c.OccurredAt.UnixNano(), 10) + ":" + strconv.FormatInt(c.Sequence, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeEventCursor(s string) (EventCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return EventCursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
	}
	nanos, seq, ok := strings.Cut(string(raw), ":")
	if !ok {
		return EventCursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return EventCursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
	}
	q, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return EventCursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
	}
	return EventCursor{OccurredAt: time.Unix(0, n).UTC(), Sequence: q}, nil
}
