package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	clientIPKey

	requestIDHeader    = "X-Request-Id"
	maxRequestIDLength = 128
)

var errMissingBearer = errors.New("missing bearer token")

// requestIDMiddleware echoes a safe caller id or mints a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			httpLogger().ErrorContext(r.Context(), "handler panicked",
				"operation", "http_panic_recovery",
				"outcome", "failure",
				"route", routePattern(r),
				"request_id", requestIDFromContext(r.Context()),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures the first status written and the body size.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (rr *responseRecorder) WriteHeader(status int) {
	if rr.status == 0 {
		rr.status = status
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(p)
	rr.written += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rr := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rr, r)

		status := rr.status
		if status == 0 {
			status = http.StatusOK
		}
		outcome := "success"
		if status >= http.StatusBadRequest {
			outcome = "failure"
		}
		// The route pattern is only complete once chi has finished routing.
		httpLogger().Log(r.Context(), levelForStatus(status), "http request served",
			"operation", "http_request",
			"outcome", outcome,
			"method", r.Method,
			"route", routePattern(r),
			"status_code", status,
			"response_bytes", rr.written,
			"elapsed_ms", time.Since(began).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		)
	})
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// routePattern returns the matched chi pattern, which keeps identities out of log keys.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMissingBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}

// serviceAuthMiddleware requires the shared service token as a bearer credential.
func serviceAuthMiddleware(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeMissingBearerError(r, w, "service_auth")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				writeFailure(r, w, "service_auth", http.StatusUnauthorized, "UNAUTHORIZED", "invalid service token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
