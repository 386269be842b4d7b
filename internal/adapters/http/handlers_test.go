package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	httpadapter "github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/http"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/memory"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/application"
)

type contractEnv struct {
	router     http.Handler
	clock      *security.ManualClock
	identities *memory.IdentityDirectory
}

func newContractEnv(t *testing.T, opts httpadapter.RouterOptions) *contractEnv {
	t.Helper()
	hasher, err := security.NewBlake2bTokenHasher([]byte("http-contract-token-hash-key-0000"))
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	env := &contractEnv{
		clock:      security.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		identities: memory.NewIdentityDirectory(),
	}
	svc := application.NewService(application.Dependencies{
		Config:         application.DefaultConfig(),
		Attempts:       memory.NewAttemptRepository(),
		AccountStates:  memory.NewAccountStateRepository(),
		ResetTokens:    memory.NewResetTokenRepository(),
		Events:         memory.NewSecurityEventRepository(nil),
		Identities:     env.identities,
		Clock:          env.clock,
		TokenGenerator: security.NewRandomTokenGenerator(),
		TokenHasher:    hasher,
	})
	env.router = httpadapter.NewRouter(httpadapter.NewHandler(svc, nil), opts)
	return env
}

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *contractEnv) do(t *testing.T, method, path string, body any, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "198.51.100.20:41000"
	for k, v := range header {
		req.Header[k] = v
	}
	res := httptest.NewRecorder()
	e.router.ServeHTTP(res, req)

	var env envelope
	if err := json.Unmarshal(res.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", res.Body.String(), err)
	}
	return res, env
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestLoginLockoutHTTPContract(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{})
	identity := uuid.New()
	env.identities.Add(identity)

	for i := 0; i < 5; i++ {
		res, _ := env.do(t, http.MethodPost, "/security/v1/login/complete", map[string]any{
			"identity":   identity,
			"ip_address": "203.0.113." + strconv.Itoa(i+1),
			"succeeded":  false,
		}, nil)
		if res.Code != http.StatusCreated {
			t.Fatalf("complete login #%d: expected 201, got %d", i+1, res.Code)
		}
	}

	res, body := env.do(t, http.MethodPost, "/security/v1/login/evaluate", map[string]any{
		"identity":   identity,
		"ip_address": "203.0.113.50",
	}, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("evaluate: expected 200, got %d", res.Code)
	}
	var decision struct {
		Allowed           bool   `json:"allowed"`
		Reason            string `json:"reason"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	}
	decodeData(t, body, &decision)
	if decision.Allowed || decision.Reason != "ACCOUNT_LOCKED" {
		t.Fatalf("expected ACCOUNT_LOCKED denial, got %+v", decision)
	}
	if decision.RetryAfterSeconds != 1800 {
		t.Fatalf("expected 1800s retry after, got %d", decision.RetryAfterSeconds)
	}
	if got := res.Header().Get("Retry-After"); got != "1800" {
		t.Fatalf("expected Retry-After 1800, got %q", got)
	}

	res, body = env.do(t, http.MethodGet, "/security/v1/accounts/"+identity.String()+"/lock-status", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("lock status: expected 200, got %d", res.Code)
	}
	var state struct {
		Locked             bool `json:"locked"`
		FailedAttemptCount int  `json:"failed_attempt_count"`
	}
	decodeData(t, body, &state)
	if !state.Locked || state.FailedAttemptCount != 5 {
		t.Fatalf("expected locked state with 5 failures, got %+v", state)
	}

	res, _ = env.do(t, http.MethodPost, "/security/v1/accounts/"+identity.String()+"/unlock", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("unlock: expected 200, got %d", res.Code)
	}
	res, body = env.do(t, http.MethodPost, "/security/v1/login/evaluate", map[string]any{
		"identity":   identity,
		"ip_address": "203.0.113.51",
	}, nil)
	decodeData(t, body, &decision)
	if res.Code != http.StatusOK || !decision.Allowed {
		t.Fatalf("expected allowed after unlock, got %d %+v", res.Code, decision)
	}
}

func TestEvaluateLoginReportsIPRateLimit(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{})
	for i := 0; i < 10; i++ {
		env.do(t, http.MethodPost, "/security/v1/login/complete", map[string]any{
			"ip_address": "192.0.2.44",
			"succeeded":  false,
		}, nil)
	}

	res, body := env.do(t, http.MethodPost, "/security/v1/login/evaluate", map[string]any{"ip_address": "192.0.2.44"}, nil)
	var decision struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	decodeData(t, body, &decision)
	if decision.Allowed || decision.Reason != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %+v", decision)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on denial")
	}
}

func TestPasswordResetHTTPContract(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{})
	identity := uuid.New()
	env.identities.Add(identity)

	res, body := env.do(t, http.MethodPost, "/security/v1/password-resets", map[string]any{"identity": identity}, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d", res.Code)
	}
	var issued struct {
		TokenID string `json:"token_id"`
		Token   string `json:"token"`
	}
	decodeData(t, body, &issued)
	if issued.Token == "" || issued.TokenID == "" {
		t.Fatalf("expected token and token_id, got %+v", issued)
	}

	res, body = env.do(t, http.MethodPost, "/security/v1/password-resets/consume", map[string]any{"token": issued.Token}, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("consume: expected 200, got %d", res.Code)
	}
	var consumed struct {
		Identity uuid.UUID `json:"identity"`
	}
	decodeData(t, body, &consumed)
	if consumed.Identity != identity {
		t.Fatalf("expected identity %s, got %s", identity, consumed.Identity)
	}

	res, body = env.do(t, http.MethodPost, "/security/v1/password-resets/consume", map[string]any{"token": issued.Token}, nil)
	if res.Code != http.StatusBadRequest || body.Code != "INVALID_OR_EXPIRED_TOKEN" {
		t.Fatalf("expected 400 INVALID_OR_EXPIRED_TOKEN on reuse, got %d %s", res.Code, body.Code)
	}
}

func TestPasswordResetUnknownIdentity(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{})
	res, body := env.do(t, http.MethodPost, "/security/v1/password-resets", map[string]any{"identity": uuid.New()}, nil)
	if res.Code != http.StatusNotFound || body.Code != "IDENTITY_NOT_FOUND" {
		t.Fatalf("expected 404 IDENTITY_NOT_FOUND, got %d %s", res.Code, body.Code)
	}
}

func TestAccountChangeAndEventQuery(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{})
	identity := uuid.New()
	env.identities.Add(identity)
	path := "/security/v1/accounts/" + identity.String() + "/changes"

	res, _ := env.do(t, http.MethodPost, path, map[string]any{
		"event_type": "EMAIL_CHANGE",
		"details":    map[string]any{"source": "settings_page"},
	}, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("record change: expected 201, got %d", res.Code)
	}
	res, body := env.do(t, http.MethodPost, path, map[string]any{"event_type": "ACCOUNT_LOCK"}, nil)
	if res.Code != http.StatusBadRequest || body.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 for non-change event type, got %d %s", res.Code, body.Code)
	}

	res, body = env.do(t, http.MethodGet, "/security/v1/events?identity="+identity.String()+"&event_type=email_change&limit=10", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("list events: expected 200, got %d", res.Code)
	}
	var page struct {
		Events []struct {
			EventType string         `json:"event_type"`
			Details   map[string]any `json:"details"`
		} `json:"events"`
		NextCursor string `json:"next_cursor"`
	}
	decodeData(t, body, &page)
	if len(page.Events) != 1 || page.Events[0].EventType != "EMAIL_CHANGE" {
		t.Fatalf("expected one EMAIL_CHANGE event, got %+v", page.Events)
	}
	if page.Events[0].Details["source"] != "settings_page" {
		t.Fatalf("expected details to round trip, got %+v", page.Events[0].Details)
	}
	if page.NextCursor != "" {
		t.Fatalf("expected no next cursor, got %q", page.NextCursor)
	}

	res, body = env.do(t, http.MethodGet, "/security/v1/events?from=yesterday", nil, nil)
	if res.Code != http.StatusBadRequest || body.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 for malformed from, got %d %s", res.Code, body.Code)
	}
}

func TestLoginHistoryFiltersByStatus(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{})
	identity := uuid.New()
	env.identities.Add(identity)
	for _, ok := range []bool{false, false, true} {
		env.do(t, http.MethodPost, "/security/v1/login/complete", map[string]any{
			"identity":   identity,
			"ip_address": "198.51.100.7",
			"succeeded":  ok,
		}, nil)
		env.clock.Advance(time.Second)
	}

	res, body := env.do(t, http.MethodGet, "/security/v1/accounts/"+identity.String()+"/login-history?status=failed", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", res.Code)
	}
	var history struct {
		Attempts []struct {
			Status string `json:"status"`
		} `json:"attempts"`
	}
	decodeData(t, body, &history)
	if len(history.Attempts) != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", len(history.Attempts))
	}
	for _, a := range history.Attempts {
		if a.Status != "FAILED" {
			t.Fatalf("expected FAILED status, got %s", a.Status)
		}
	}

	res, _ = env.do(t, http.MethodGet, "/security/v1/accounts/not-a-uuid/login-history", nil, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed identity, got %d", res.Code)
	}
}

func TestRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{})
	res, body := env.do(t, http.MethodPost, "/security/v1/login/evaluate", map[string]any{"ip_address": "192.0.2.1", "password": "x"}, nil)
	if res.Code != http.StatusBadRequest || body.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d %s", res.Code, body.Code)
	}
}

func TestServiceTokenRequired(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{ServiceToken: "s3cret"})
	payload := map[string]any{"ip_address": "192.0.2.1"}

	res, body := env.do(t, http.MethodPost, "/security/v1/login/evaluate", payload, nil)
	if res.Code != http.StatusUnauthorized || body.Code != "UNAUTHORIZED" {
		t.Fatalf("expected 401 without token, got %d %s", res.Code, body.Code)
	}
	res, _ = env.do(t, http.MethodPost, "/security/v1/login/evaluate", payload, http.Header{"Authorization": {"Bearer wrong"}})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", res.Code)
	}
	res, _ = env.do(t, http.MethodPost, "/security/v1/login/evaluate", payload, http.Header{"Authorization": {"Bearer s3cret"}})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", res.Code)
	}

	res, _ = env.do(t, http.MethodGet, "/healthz", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("healthz must stay open, got %d", res.Code)
	}
}

func TestAPIRateLimiterThrottlesClient(t *testing.T) {
	t.Parallel()

	limiter := httpadapter.NewClientRateLimiter(httpadapter.RateLimitConfig{Rate: 1, Burst: 2, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	env := newContractEnv(t, httpadapter.RouterOptions{Limiter: limiter})
	path := "/security/v1/events"

	for i := 0; i < 2; i++ {
		if res, _ := env.do(t, http.MethodGet, path, nil, nil); res.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, res.Code)
		}
	}
	res, body := env.do(t, http.MethodGet, path, nil, nil)
	if res.Code != http.StatusTooManyRequests || body.Code != "RATE_LIMITED" {
		t.Fatalf("expected 429 RATE_LIMITED, got %d %s", res.Code, body.Code)
	}
	if res.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", res.Header().Get("Retry-After"))
	}
	if limiter.Len() != 1 {
		t.Fatalf("expected one client bucket, got %d", limiter.Len())
	}
}

func TestReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	svc := application.NewService(application.Dependencies{})
	router := httpadapter.NewRouter(httpadapter.NewHandler(svc, func(context.Context) error {
		return errors.New("postgres down")
	}), httpadapter.RouterOptions{})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestRequestIDEchoedOrReplaced(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{})
	res, _ := env.do(t, http.MethodGet, "/healthz", nil, http.Header{"X-Request-Id": {"edge-7f3a:01"}})
	if got := res.Header().Get("X-Request-Id"); got != "edge-7f3a:01" {
		t.Fatalf("expected caller request id echoed, got %q", got)
	}

	res, _ = env.do(t, http.MethodGet, "/healthz", nil, http.Header{"X-Request-Id": {"bad id\r\ninjected"}})
	if _, err := uuid.Parse(res.Header().Get("X-Request-Id")); err != nil {
		t.Fatalf("expected generated uuid for unsafe request id, got %q", res.Header().Get("X-Request-Id"))
	}
}

type eventView struct {
	EventType string `json:"event_type"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

func (e *contractEnv) events(t *testing.T, identity uuid.UUID, eventType string) []eventView {
	t.Helper()
	res, body := e.do(t, http.MethodGet, "/security/v1/events?identity="+identity.String()+"&event_type="+eventType, nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("list events: expected 200, got %d", res.Code)
	}
	var page struct {
		Events []eventView `json:"events"`
	}
	decodeData(t, body, &page)
	return page.Events
}

func TestAPIRateLimiterIgnoresSpoofedForwardedFor(t *testing.T) {
	t.Parallel()

	limiter := httpadapter.NewClientRateLimiter(httpadapter.RateLimitConfig{Rate: 1, Burst: 2, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	env := newContractEnv(t, httpadapter.RouterOptions{Limiter: limiter})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		xff := http.Header{"X-Forwarded-For": {"203.0.113." + strconv.Itoa(i+1)}}
		last, _ = env.do(t, http.MethodGet, "/security/v1/events", nil, xff)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rotating X-Forwarded-For to stay throttled, got %d", last.Code)
	}
	if limiter.Len() != 1 {
		t.Fatalf("expected one bucket keyed on the socket peer, got %d", limiter.Len())
	}
}

func TestTrustedProxyForwardedForIsHonoured(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{
		TrustedProxies: []netip.Prefix{netip.MustParsePrefix("198.51.100.0/24")},
	})
	identity := uuid.New()
	env.identities.Add(identity)

	// The leftmost hop is client-supplied; the edge proxy appended 203.0.113.9.
	header := http.Header{"X-Forwarded-For": {"6.6.6.6, 203.0.113.9, 198.51.100.7"}}
	res, _ := env.do(t, http.MethodPost, "/security/v1/accounts/"+identity.String()+"/changes", map[string]any{"event_type": "ROLE_CHANGE"}, header)
	if res.Code != http.StatusCreated {
		t.Fatalf("record change: expected 201, got %d", res.Code)
	}
	got := env.events(t, identity, "ROLE_CHANGE")
	if len(got) != 1 || got[0].IPAddress != "203.0.113.9" {
		t.Fatalf("expected first untrusted hop 203.0.113.9, got %+v", got)
	}
}

func TestPasswordResetRecordsEndUserAddress(t *testing.T) {
	t.Parallel()

	env := newContractEnv(t, httpadapter.RouterOptions{})
	identity := uuid.New()
	env.identities.Add(identity)

	res, body := env.do(t, http.MethodPost, "/security/v1/password-resets", map[string]any{
		"identity":   identity,
		"ip_address": "203.0.113.50",
		"user_agent": "Mozilla/5.0 (reset form)",
	}, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d", res.Code)
	}
	var issued struct {
		Token string `json:"token"`
	}
	decodeData(t, body, &issued)

	res, _ = env.do(t, http.MethodPost, "/security/v1/password-resets/consume", map[string]any{
		"token":      issued.Token,
		"ip_address": "203.0.113.51",
	}, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("consume: expected 200, got %d", res.Code)
	}

	requested := env.events(t, identity, "RESET_REQUEST")
	if len(requested) != 1 || requested[0].IPAddress != "203.0.113.50" || requested[0].UserAgent != "Mozilla/5.0 (reset form)" {
		t.Fatalf("expected end-user address on RESET_REQUEST, got %+v", requested)
	}
	completed := env.events(t, identity, "RESET_COMPLETE")
	if len(completed) != 1 || completed[0].IPAddress != "203.0.113.51" {
		t.Fatalf("expected end-user address on RESET_COMPLETE, got %+v", completed)
	}
}
