package http

import (
	"log/slog"
	"net/http"
)

const serviceName = "M08-Auth-Security-Core"

func httpLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "http",
		"layer", "adapter",
	)
}

// logHTTPOperationError logs a rejected request at a level derived from its status.
// Request bodies are never logged since they can carry reset tokens.
func logHTTPOperationError(r *http.Request, operation string, statusCode int, code, message string, err error) {
	ctx := r.Context()
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"message", message,
		"route", routePattern(r),
		"client_ip", readIP(r),
		"request_id", requestIDFromContext(ctx),
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	httpLogger().Log(ctx, levelForStatus(statusCode), "http operation failed", fields...)
}
