package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeFailure(r, w, "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependency check failed", err)
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

// endUser carries the address and agent of the person behind a proxied call. The
// calling service fills it in; when absent the HTTP peer is used.
type endUser struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

func (u endUser) ip(r *http.Request) string {
	if ip := strings.TrimSpace(u.IPAddress); ip != "" {
		return ip
	}
	return readIP(r)
}

func (u endUser) userAgent(r *http.Request) string {
	if u.UserAgent != "" {
		return u.UserAgent
	}
	return r.UserAgent()
}

func (u endUser) meta(r *http.Request) application.RequestMeta {
	return application.RequestMeta{IPAddress: u.ip(r), UserAgent: u.userAgent(r)}
}

type loginRequest struct {
	endUser
	Identity      *uuid.UUID `json:"identity,omitempty"`
	Succeeded     bool       `json:"succeeded"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

func (h *Handler) evaluateLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r, w, "evaluate_login", err)
		return
	}

	decision, err := h.service.BeginLogin(r.Context(), application.BeginLoginRequest{
		Identity:  req.Identity,
		IPAddress: req.ip(r),
		UserAgent: req.userAgent(r),
	})
	if err != nil {
		writeMappedError(r, w, "evaluate_login", err)
		return
	}

	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
	}
	writeSuccess(w, http.StatusOK, decisionDTO(decision))
}

func (h *Handler) completeLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r, w, "complete_login", err)
		return
	}
	reason := domain.FailureReason(strings.ToUpper(strings.TrimSpace(req.FailureReason)))
	if reason != "" && !reason.Valid() {
		writeValidationError(r, w, "complete_login", fmt.Errorf("unknown failure_reason %q", req.FailureReason))
		return
	}

	out, err := h.service.CompleteLogin(r.Context(), application.CompleteLoginRequest{
		Identity:      req.Identity,
		IPAddress:     req.ip(r),
		UserAgent:     req.userAgent(r),
		Succeeded:     req.Succeeded,
		FailureReason: reason,
	})
	if err != nil {
		writeMappedError(r, w, "complete_login", err)
		return
	}

	data := map[string]any{"attempt": attemptDTO(out.Attempt)}
	if out.State != nil {
		data["state"] = stateDTO(*out.State)
	}
	writeSuccess(w, http.StatusCreated, data)
}

func (h *Handler) lockStatus(w http.ResponseWriter, r *http.Request) {
	identity, err := identityParam(r)
	if err != nil {
		writeValidationError(r, w, "lock_status", err)
		return
	}
	state, err := h.service.LockStatus(r.Context(), identity)
	if err != nil {
		writeMappedError(r, w, "lock_status", err)
		return
	}
	writeSuccess(w, http.StatusOK, stateDTO(state))
}

func (h *Handler) unlockAccount(w http.ResponseWriter, r *http.Request) {
	identity, err := identityParam(r)
	if err != nil {
		writeValidationError(r, w, "unlock_account", err)
		return
	}
	state, err := h.service.Unlock(r.Context(), identity, requestMeta(r))
	if err != nil {
		writeMappedError(r, w, "unlock_account", err)
		return
	}
	writeSuccess(w, http.StatusOK, stateDTO(state))
}

func (h *Handler) loginHistory(w http.ResponseWriter, r *http.Request) {
	identity, err := identityParam(r)
	if err != nil {
		writeValidationError(r, w, "login_history", err)
		return
	}

	query := r.URL.Query()
	q := application.LoginHistoryQuery{
		Days:  parseIntDefault(query.Get("days"), 30),
		Page:  parseIntDefault(query.Get("page"), 1),
		Limit: parseIntDefault(query.Get("limit"), 50),
	}
	switch strings.ToUpper(strings.TrimSpace(query.Get("status"))) {
	case "":
	case domain.AttemptStatusSuccess:
		q.Succeeded = boolPtr(true)
	case domain.AttemptStatusFailed:
		q.Succeeded = boolPtr(false)
	default:
		writeValidationError(r, w, "login_history", fmt.Errorf("status must be %s or %s", domain.AttemptStatusSuccess, domain.AttemptStatusFailed))
		return
	}

	attempts, err := h.service.LoginHistory(r.Context(), identity, q)
	if err != nil {
		writeMappedError(r, w, "login_history", err)
		return
	}
	items := make([]map[string]any, 0, len(attempts))
	for _, a := range attempts {
		items = append(items, attemptDTO(a))
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"attempts": items,
		"page":     q.Page,
		"limit":    q.Limit,
	})
}

type passwordResetRequest struct {
	endUser
	Identity uuid.UUID `json:"identity"`
}

func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r, w, "request_password_reset", err)
		return
	}
	issued, err := h.service.RequestPasswordReset(r.Context(), req.Identity, req.meta(r))
	if err != nil {
		writeMappedError(r, w, "request_password_reset", err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{
		"token_id":   issued.TokenID,
		"identity":   issued.Identity,
		"token":      issued.Token,
		"expires_at": issued.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type consumeResetRequest struct {
	endUser
	Token string `json:"token"`
}

func (h *Handler) consumePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req consumeResetRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r, w, "consume_password_reset", err)
		return
	}
	identity, err := h.service.CompletePasswordReset(r.Context(), strings.TrimSpace(req.Token), req.meta(r))
	if err != nil {
		writeMappedError(r, w, "consume_password_reset", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"identity": identity})
}

type accountChangeRequest struct {
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
}

func (h *Handler) recordAccountChange(w http.ResponseWriter, r *http.Request) {
	identity, err := identityParam(r)
	if err != nil {
		writeValidationError(r, w, "record_account_change", err)
		return
	}
	var req accountChangeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r, w, "record_account_change", err)
		return
	}
	eventType := domain.EventType(strings.ToUpper(strings.TrimSpace(req.EventType)))

	event, err := h.service.RecordAccountChange(r.Context(), identity, eventType, requestMeta(r), req.Details)
	if err != nil {
		writeMappedError(r, w, "record_account_change", err)
		return
	}
	writeSuccess(w, http.StatusCreated, eventDTO(event))
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter domain.EventFilter

	if raw := strings.TrimSpace(query.Get("identity")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeValidationError(r, w, "list_events", fmt.Errorf("identity must be a uuid"))
			return
		}
		filter.Identity = &id
	}
	if raw := strings.TrimSpace(query.Get("event_type")); raw != "" {
		filter.Type = domain.EventType(strings.ToUpper(raw))
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := strings.TrimSpace(query.Get(bound.name))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeValidationError(r, w, "list_events", fmt.Errorf("%s must be RFC3339", bound.name))
			return
		}
		*bound.dst = &t
	}

	page, err := h.service.Events(r.Context(), filter, application.Page{
		Cursor: query.Get("cursor"),
		Limit:  parseIntDefault(query.Get("limit"), 0),
	})
	if err != nil {
		writeMappedError(r, w, "list_events", err)
		return
	}
	items := make([]map[string]any, 0, len(page.Events))
	for _, e := range page.Events {
		items = append(items, eventDTO(e))
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"events":      items,
		"next_cursor": page.NextCursor,
	})
}

func identityParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "identity"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("identity must be a uuid")
	}
	return id, nil
}

func requestMeta(r *http.Request) application.RequestMeta {
	return application.RequestMeta{IPAddress: readIP(r), UserAgent: r.UserAgent()}
}

func boolPtr(v bool) *bool { return &v }
