package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

func TestEleventhAttemptFromOneIPIsRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ip := "192.0.2.99"

	// Ten different identities, one attempt each, inside one minute.
	for i := 0; i < 10; i++ {
		id := f.newIdentity()
		f.failLogin(t, id, ip)
		f.clock.Advance(time.Second)
	}

	victim := f.newIdentity()
	decision, err := f.service.BeginLogin(ctx, application.BeginLoginRequest{Identity: &victim, IPAddress: ip})
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if decision.Allowed || decision.Reason != domain.DenyRateLimited {
		t.Fatalf("expected rate-limited denial, got %+v", decision)
	}
	if !errors.Is(decision.Err(), domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited from decision")
	}

	// Rate limiting does not touch the account counter.
	state, err := f.service.LockStatus(ctx, victim)
	if err != nil {
		t.Fatalf("lock status: %v", err)
	}
	if state.FailedAttemptCount != 0 {
		t.Fatalf("expected untouched counter, got %d", state.FailedAttemptCount)
	}

	types := f.eventTypes(t, victim)
	if len(types) != 1 || types[0] != domain.EventLoginFailure {
		t.Fatalf("expected one LOGIN_FAILURE for the denial, got %v", types)
	}

	other, err := f.service.BeginLogin(ctx, application.BeginLoginRequest{Identity: &victim, IPAddress: "192.0.2.100"})
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if !other.Allowed {
		t.Fatalf("a different source IP must not be limited, got %+v", other)
	}
}

func TestRateLimitWindowSlides(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ledger := f.service.Ledger()
	ip := "192.0.2.101"
	start := f.clock.Now()

	for i := 0; i < 10; i++ {
		if _, err := ledger.Record(ctx, application.AttemptInput{IPAddress: ip, FailureReason: domain.FailureUnknownIdentity}, start); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	allowed, err := ledger.CheckIPRateLimit(ctx, ip, start.Add(59*time.Second))
	if err != nil || allowed {
		t.Fatalf("expected limited inside the window, got %v err=%v", allowed, err)
	}
	// The window is (now-60s, now]: an attempt exactly 60s old has left it.
	allowed, err = ledger.CheckIPRateLimit(ctx, ip, start.Add(time.Minute))
	if err != nil || !allowed {
		t.Fatalf("expected allowed once the window slid, got %v err=%v", allowed, err)
	}
}

func TestRecordValidatesInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ledger := f.service.Ledger()
	now := f.clock.Now()

	cases := []application.AttemptInput{
		{IPAddress: "", FailureReason: domain.FailureInvalidCredentials},
		{IPAddress: "not-an-ip", FailureReason: domain.FailureInvalidCredentials},
		{IPAddress: "192.0.2.1", FailureReason: "BOGUS"},
		{IPAddress: "192.0.2.1", Succeeded: true, FailureReason: domain.FailureInvalidCredentials},
		{IPAddress: "192.0.2.1"},
	}
	for _, in := range cases {
		if _, err := ledger.Record(ctx, in, now); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("input %+v: expected ErrInvalidInput, got %v", in, err)
		}
	}

	attempt, err := ledger.Record(ctx, application.AttemptInput{IPAddress: " 2001:db8::1 ", Succeeded: false, FailureReason: domain.FailureAccountInactive}, now)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if attempt.IPAddress != "2001:db8::1" || attempt.ID == 0 {
		t.Fatalf("expected normalized stored attempt, got %+v", attempt)
	}
	if attempt.Status() != domain.AttemptStatusFailed {
		t.Fatalf("expected FAILED status, got %s", attempt.Status())
	}
}

func TestNonCountingFailuresLeaveCounterAlone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.newIdentity()

	for i := 0; i < 6; i++ {
		if _, err := f.service.CompleteLogin(ctx, application.CompleteLoginRequest{
			Identity:      &id,
			IPAddress:     "192.0.2.102",
			FailureReason: domain.FailureAccountInactive,
		}); err != nil {
			t.Fatalf("complete login: %v", err)
		}
	}
	state, err := f.service.LockStatus(ctx, id)
	if err != nil {
		t.Fatalf("lock status: %v", err)
	}
	if state.FailedAttemptCount != 0 || state.LockedUntil != nil {
		t.Fatalf("ACCOUNT_INACTIVE must not drive lockout, got %+v", state)
	}
}

func TestAnonymousFailureIsRecordedAsUnknownIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.CompleteLogin(ctx, application.CompleteLoginRequest{IPAddress: "192.0.2.103"})
	if err != nil {
		t.Fatalf("complete login: %v", err)
	}
	if out.Attempt.FailureReason != domain.FailureUnknownIdentity || out.State != nil {
		t.Fatalf("expected UNKNOWN_IDENTITY attempt without state, got %+v", out)
	}

	_, err = f.service.CompleteLogin(ctx, application.CompleteLoginRequest{IPAddress: "192.0.2.103", Succeeded: true})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for anonymous success, got %v", err)
	}
}

func TestLoginHistoryNewestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.newIdentity()

	for i := 0; i < 3; i++ {
		f.failLogin(t, id, "192.0.2.104")
		f.clock.Advance(time.Hour)
	}
	if _, err := f.service.CompleteLogin(ctx, application.CompleteLoginRequest{Identity: &id, IPAddress: "192.0.2.104", Succeeded: true}); err != nil {
		t.Fatalf("complete login: %v", err)
	}

	rows, err := f.service.LoginHistory(ctx, id, application.LoginHistoryQuery{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 4 || !rows[0].Succeeded {
		t.Fatalf("expected 4 rows with the success first, got %+v", rows)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].OccurredAt.After(rows[i-1].OccurredAt) {
			t.Fatalf("history not sorted newest first")
		}
	}

	succeeded := false
	failed, err := f.service.LoginHistory(ctx, id, application.LoginHistoryQuery{Succeeded: &succeeded, Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(failed) != 2 || failed[0].Succeeded {
		t.Fatalf("expected 2 failed rows, got %+v", failed)
	}
}

func TestStorageFailurePropagates(t *testing.T) {
	t.Parallel()

	t.Run("attempts", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(d *application.Dependencies) { d.Attempts = failingAttempts{} })
		id := f.newIdentity()

		_, err := f.service.BeginLogin(context.Background(), application.BeginLoginRequest{Identity: &id, IPAddress: "192.0.2.105"})
		if !errors.Is(err, domain.ErrStorageFailure) || !errors.Is(err, errBackendDown) {
			t.Fatalf("expected wrapped storage failure, got %v", err)
		}
	})

	t.Run("audit", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(d *application.Dependencies) { d.Events = failingEvents{} })
		id := f.newIdentity()

		_, err := f.service.CompleteLogin(context.Background(), application.CompleteLoginRequest{
			Identity:  &id,
			IPAddress: "192.0.2.106",
			Succeeded: true,
		})
		if !errors.Is(err, domain.ErrStorageFailure) {
			t.Fatalf("expected audit failure to surface, got %v", err)
		}
		_, err = f.service.Events(context.Background(), domain.EventFilter{}, application.Page{})
		if !errors.Is(err, domain.ErrStorageFailure) {
			t.Fatalf("expected query failure to surface, got %v", err)
		}
	})
}

func TestStoredUserAgentIsValidUTF8(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.newIdentity()
	now := f.clock.Now()

	cases := map[string]string{
		"rune on length boundary": strings.Repeat("a", 511) + "é",
		"raw obs-text byte":       "curl/8.0 \xff\xfe",
		"oversized multibyte":     strings.Repeat("日本", 200),
	}
	for name, ua := range cases {
		attempt, err := f.service.Ledger().Record(ctx, application.AttemptInput{
			Identity:      &id,
			IPAddress:     "192.0.2.60",
			UserAgent:     ua,
			FailureReason: domain.FailureInvalidCredentials,
		}, now)
		if err != nil {
			t.Fatalf("%s: record: %v", name, err)
		}
		if !utf8.ValidString(attempt.UserAgent) || len(attempt.UserAgent) > 512 {
			t.Fatalf("%s: stored user agent len=%d valid=%v", name, len(attempt.UserAgent), utf8.ValidString(attempt.UserAgent))
		}
		if !strings.HasPrefix(ua, attempt.UserAgent) && name != "raw obs-text byte" {
			t.Fatalf("%s: stored user agent is not a prefix of the input", name)
		}

		event, err := f.service.RecordAccountChange(ctx, id, domain.EventEmailChange, application.RequestMeta{IPAddress: "192.0.2.60", UserAgent: ua}, nil)
		if err != nil {
			t.Fatalf("%s: record account change: %v", name, err)
		}
		if !utf8.ValidString(event.UserAgent) || len(event.UserAgent) > 512 {
			t.Fatalf("%s: audit user agent len=%d valid=%v", name, len(event.UserAgent), utf8.ValidString(event.UserAgent))
		}
	}

	attempt, err := f.service.Ledger().Record(ctx, application.AttemptInput{
		Identity:      &id,
		IPAddress:     "192.0.2.60",
		UserAgent:     strings.Repeat("a", 511) + "é",
		FailureReason: domain.FailureInvalidCredentials,
	}, now)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if attempt.UserAgent != strings.Repeat("a", 511) {
		t.Fatalf("expected cut before the split rune, got len=%d", len(attempt.UserAgent))
	}
}
