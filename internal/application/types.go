package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

type Config struct {
	Lockout          domain.LockoutPolicy
	IPWindow         time.Duration
	IPLimit          int
	ResetTokenTTL    time.Duration
	OperationTimeout time.Duration
	QueryDefaultSize int
	QueryMaxSize     int
}

func DefaultConfig() Config {
	return Config{
		Lockout:          domain.DefaultLockoutPolicy(),
		IPWindow:         time.Minute,
		IPLimit:          10,
		ResetTokenTTL:    time.Hour,
		OperationTimeout: 3 * time.Second,
		QueryDefaultSize: 100,
		QueryMaxSize:     500,
	}
}

// withDefaults fills zero fields so partially populated configs behave like DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Lockout.Threshold <= 0 {
		c.Lockout.Threshold = d.Lockout.Threshold
	}
	if c.Lockout.Duration <= 0 {
		c.Lockout.Duration = d.Lockout.Duration
	}
	if c.IPWindow <= 0 {
		c.IPWindow = d.IPWindow
	}
	if c.IPLimit <= 0 {
		c.IPLimit = d.IPLimit
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = d.ResetTokenTTL
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.QueryMaxSize <= 0 {
		c.QueryMaxSize = d.QueryMaxSize
	}
	if c.QueryDefaultSize <= 0 || c.QueryDefaultSize > c.QueryMaxSize {
		c.QueryDefaultSize = min(d.QueryDefaultSize, c.QueryMaxSize)
	}
	return c
}

// RequestMeta is the client context attached to audit events.
type RequestMeta struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

type AttemptInput struct {
	Identity      *uuid.UUID
	IPAddress     string
	UserAgent     string
	Succeeded     bool
	FailureReason domain.FailureReason
}

type LoginContext struct {
	Identity  *uuid.UUID
	IPAddress string
	UserAgent string
}

func (c LoginContext) meta() RequestMeta {
	return RequestMeta{IPAddress: c.IPAddress, UserAgent: c.UserAgent}
}

// ResetSource records why an account counter was cleared.
type ResetSource string

const (
	ResetSourceLoginSuccess  ResetSource = "login_success"
	ResetSourcePasswordReset ResetSource = "password_reset"
	ResetSourceAdminUnlock   ResetSource = "admin_unlock"
)

// BeginLoginRequest is sent before the caller verifies the credential.
type BeginLoginRequest struct {
	Identity  *uuid.UUID `json:"identity,omitempty"`
	IPAddress string     `json:"ip_address"`
	UserAgent string     `json:"user_agent"`
}

// CompleteLoginRequest reports the credential check result for an allowed attempt.
type CompleteLoginRequest struct {
	Identity      *uuid.UUID           `json:"identity,omitempty"`
	IPAddress     string               `json:"ip_address"`
	UserAgent     string               `json:"user_agent"`
	Succeeded     bool                 `json:"succeeded"`
	FailureReason domain.FailureReason `json:"failure_reason,omitempty"`
}

type LoginOutcome struct {
	Attempt domain.LoginAttempt
	State   *domain.AccountSecurityState
}

type IssuedResetToken struct {
	TokenID   uuid.UUID
	Identity  uuid.UUID
	Token     string
	ExpiresAt time.Time
}

type Page struct {
	Cursor string
	Limit  int
}

type EventPage struct {
	Events     []domain.SecurityEvent
	NextCursor string
}

type LoginHistoryQuery struct {
	Days      int
	Succeeded *bool
	Page      int
	Limit     int
}
