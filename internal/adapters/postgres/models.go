package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
	"gorm.io/datatypes"
)

type loginAttemptModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	IdentityID    *uuid.UUID `gorm:"column:identity_id;type:uuid"`
	IPAddress     string     `gorm:"column:ip_address"`
	UserAgent     string     `gorm:"column:user_agent"`
	Status        string     `gorm:"column:status"`
	FailureReason *string    `gorm:"column:failure_reason"`
	OccurredAt    time.Time  `gorm:"column:occurred_at"`
}

func (loginAttemptModel) TableName() string { return "login_attempts" }

type accountSecurityStateModel struct {
	IdentityID         uuid.UUID  `gorm:"column:identity_id;type:uuid;primaryKey"`
	FailedAttemptCount int        `gorm:"column:failed_attempt_count"`
	LastFailedAt       *time.Time `gorm:"column:last_failed_at"`
	LockedUntil        *time.Time `gorm:"column:locked_until"`
	Version            int64      `gorm:"column:version"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (accountSecurityStateModel) TableName() string { return "account_security_states" }

type resetTokenModel struct {
	TokenID       uuid.UUID  `gorm:"column:token_id;type:uuid;primaryKey"`
	IdentityID    uuid.UUID  `gorm:"column:identity_id;type:uuid"`
	TokenHash     string     `gorm:"column:token_hash"`
	Status        string     `gorm:"column:status"`
	IsUsed        bool       `gorm:"column:is_used"`
	RequestingIP  *string    `gorm:"column:requesting_ip"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime:false"`
	ExpiresAt     time.Time  `gorm:"column:expires_at"`
	UsedAt        *time.Time `gorm:"column:used_at"`
	InvalidatedAt *time.Time `gorm:"column:invalidated_at"`
}

func (resetTokenModel) TableName() string { return "password_reset_tokens" }

type securityEventModel struct {
	Sequence   int64          `gorm:"column:sequence;primaryKey;autoIncrement"`
	EventID    uuid.UUID      `gorm:"column:event_id;type:uuid"`
	IdentityID *uuid.UUID     `gorm:"column:identity_id;type:uuid"`
	EventType  string         `gorm:"column:event_type"`
	IPAddress  string         `gorm:"column:ip_address"`
	UserAgent  string         `gorm:"column:user_agent"`
	Details    datatypes.JSON `gorm:"column:details;type:jsonb"`
	OccurredAt time.Time      `gorm:"column:occurred_at"`
}

func (securityEventModel) TableName() string { return "security_events" }

type securityOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime:false"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (securityOutboxModel) TableName() string { return "security_outbox" }

func (m securityOutboxModel) toRecord() ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       m.OutboxID,
		EventType:      m.EventType,
		PartitionKey:   m.PartitionKey,
		Payload:        []byte(m.Payload),
		RetryCount:     m.RetryCount,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		PublishedAt:    m.PublishedAt,
		LastErrorAt:    m.LastErrorAt,
		ClaimToken:     m.ClaimToken,
		ClaimUntil:     m.ClaimUntil,
		DeadLetteredAt: m.DeadLetteredAt,
	}
}
