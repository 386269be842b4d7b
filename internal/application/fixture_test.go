package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/memory"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

var fixtureStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	service    *application.Service
	clock      *security.ManualClock
	identities *memory.IdentityDirectory
	attempts   *memory.AttemptRepository
	states     *memory.AccountStateRepository
	tokens     *memory.ResetTokenRepository
	events     *memory.SecurityEventRepository
}

type fixtureOption func(*application.Dependencies)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	hasher, err := security.NewBlake2bTokenHasher([]byte("unit-test-token-hash-key-000000"))
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	f := &fixture{
		clock:      security.NewManualClock(fixtureStart),
		identities: memory.NewIdentityDirectory(),
		attempts:   memory.NewAttemptRepository(),
		states:     memory.NewAccountStateRepository(),
		tokens:     memory.NewResetTokenRepository(),
		events:     memory.NewSecurityEventRepository(nil),
	}
	deps := application.Dependencies{
		Config:         application.DefaultConfig(),
		Attempts:       f.attempts,
		AccountStates:  f.states,
		ResetTokens:    f.tokens,
		Events:         f.events,
		Identities:     f.identities,
		Clock:          f.clock,
		TokenGenerator: security.NewRandomTokenGenerator(),
		TokenHasher:    hasher,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.service = application.NewService(deps)
	return f
}

func (f *fixture) newIdentity() uuid.UUID {
	id := uuid.New()
	f.identities.Add(id)
	return id
}

func (f *fixture) eventTypes(t *testing.T, identity uuid.UUID) []domain.EventType {
	t.Helper()
	page, err := f.service.Events(context.Background(), domain.EventFilter{Identity: &identity}, application.Page{Limit: 500})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	out := make([]domain.EventType, 0, len(page.Events))
	for _, e := range page.Events {
		out = append(out, e.Type)
	}
	return out
}

func (f *fixture) failLogin(t *testing.T, identity uuid.UUID, ip string) {
	t.Helper()
	ctx := context.Background()
	decision, err := f.service.BeginLogin(ctx, application.BeginLoginRequest{Identity: &identity, IPAddress: ip, UserAgent: "unit-test"})
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected login to be allowed, got %s", decision.Reason)
	}
	if _, err := f.service.CompleteLogin(ctx, application.CompleteLoginRequest{
		Identity:      &identity,
		IPAddress:     ip,
		UserAgent:     "unit-test",
		FailureReason: domain.FailureInvalidCredentials,
	}); err != nil {
		t.Fatalf("complete login: %v", err)
	}
}

func countTypes(types []domain.EventType, want domain.EventType) int {
	n := 0
	for _, tp := range types {
		if tp == want {
			n++
		}
	}
	return n
}

var errBackendDown = errors.New("connection reset by peer")

type failingEvents struct{}

func (failingEvents) Append(context.Context, domain.SecurityEvent) (domain.SecurityEvent, error) {
	return domain.SecurityEvent{}, errBackendDown
}

func (failingEvents) Query(context.Context, domain.EventFilter, *domain.EventCursor, int) ([]domain.SecurityEvent, error) {
	return nil, errBackendDown
}

type failingAttempts struct{}

func (failingAttempts) Insert(context.Context, domain.LoginAttempt) (domain.LoginAttempt, error) {
	return domain.LoginAttempt{}, errBackendDown
}

func (failingAttempts) CountByIP(context.Context, string, time.Time, time.Time) (int, error) {
	return 0, errBackendDown
}

func (failingAttempts) ListByIdentity(context.Context, uuid.UUID, ports.AttemptQuery) ([]domain.LoginAttempt, error) {
	return nil, errBackendDown
}
