package http

import (
	"errors"
	"net/http"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

type errorMapping struct {
	match   func(error) bool
	status  int
	code    string
	message string
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// Order matters: the first match wins. Token failures share one response so callers
// cannot tell expired, used and unknown tokens apart.
var domainErrorMappings = []errorMapping{
	{match: is(domain.ErrIdentityNotFound), status: http.StatusNotFound, code: "IDENTITY_NOT_FOUND", message: "identity not found"},
	{match: domain.IsTokenError, status: http.StatusBadRequest, code: "INVALID_OR_EXPIRED_TOKEN", message: "invalid or expired reset token"},
	{match: is(domain.ErrAccountLocked), status: http.StatusTooManyRequests, code: "ACCOUNT_LOCKED", message: "account temporarily locked"},
	{match: is(domain.ErrRateLimited), status: http.StatusTooManyRequests, code: "RATE_LIMITED", message: "too many requests"},
	{match: is(domain.ErrConflict), status: http.StatusConflict, code: "CONFLICT", message: "concurrent update, retry the request"},
	{match: is(domain.ErrStorageFailure), status: http.StatusServiceUnavailable, code: "STORAGE_UNAVAILABLE", message: "security store unavailable"},
}

func mapDomainError(err error) (int, string, string) {
	if errors.Is(err, domain.ErrInvalidInput) {
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	}
	for _, m := range domainErrorMappings {
		if m.match(err) {
			return m.status, m.code, m.message
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
}
